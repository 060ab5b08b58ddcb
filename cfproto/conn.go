package cfproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Protocol versions sent in the version command.
const (
	ClientCSVersion = 1023
	ClientSCVersion = 1029
	ClientName      = "cfclient"
)

// Conn is a connection to a Crossfire server.
type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	dec    *Decoder
	log    logrus.FieldLogger
	record io.Writer

	wmu sync.Mutex
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithRecorder copies every received frame, length prefix included, to w.
// The result can be replayed with Feed.
func WithRecorder(w io.Writer) ConnOption {
	return func(c *Conn) { c.record = w }
}

func WithConnLogger(l logrus.FieldLogger) ConnOption {
	return func(c *Conn) { c.log = l }
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, dec *Decoder, opts ...ConnOption) (*Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logrus.WithError(err).Debug("cfproto: set nodelay")
		}
	}
	return NewConn(nc, dec, opts...), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, dec *Decoder, opts ...ConnOption) *Conn {
	c := &Conn{
		conn: nc,
		r:    bufio.NewReaderSize(nc, 64<<10),
		dec:  dec,
		log:  logrus.StandardLogger(),
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Send writes one command to the server.
func (c *Conn) Send(cmd string, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := WriteMessage(c.conn, cmd, data); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	c.log.WithFields(logrus.Fields{"cmd": cmd, "len": len(data)}).Debug("cfproto: sent")
	return nil
}

// Handshake announces the client and asks for the map2 protocol with a
// width x height viewport.
func (c *Conn) Handshake(width, height int) error {
	version := fmt.Sprintf("%d %d %s", ClientCSVersion, ClientSCVersion, ClientName)
	if err := c.Send("version", encodeLatin1(version)); err != nil {
		return err
	}
	setup := fmt.Sprintf("map2cmd 1 tick 1 facecache 1 mapsize %dx%d", width, height)
	return c.Send("setup", []byte(setup))
}

// AskFace requests the image of face id.
func (c *Conn) AskFace(id int) {
	if err := c.Send("askface", []byte(strconv.Itoa(id))); err != nil {
		c.log.WithError(err).WithField("face", id).Warn("cfproto: askface")
	}
}

// Run reads server messages into the decoder until the connection closes
// or ctx is done.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var r io.Reader = c.r
	if c.record != nil {
		r = io.TeeReader(c.r, c.record)
	}
	_, err := Feed(r, c.dec)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Conn) Close() error { return c.conn.Close() }

// Feed decodes length-prefixed messages from r until EOF and returns how
// many it read. A clean EOF between messages is not an error.
func Feed(r io.Reader, dec *Decoder) (int, error) {
	n := 0
	for {
		msg, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		dec.Dispatch(msg)
	}
}
