package cfproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/png"
	"strconv"
	"strings"
	"time"

	"cfclient/cfanim"
	"cfclient/cfface"
	"cfclient/cfmap"
	"cfclient/cfupdate"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// map2 encoding.
const (
	coordOffset  = 15
	coordScroll  = 1
	typeClear    = 0x00
	typeDarkness = 0x01
	typeLabel    = 0x02
	layerStart   = 0x10
	coordEnd     = 0xff
	faceIsAnim   = 0x8000
	animMask     = 0x1fff
)

// DefaultMapWidth and DefaultMapHeight are the viewport size a server
// assumes until setup negotiates another.
const (
	DefaultMapWidth  = 11
	DefaultMapHeight = 11
)

// MaxMapSize bounds each side of a viewport accepted from setup. map2
// coordinates cannot address anything beyond it.
const MaxMapSize = 64

// Stats counts decoded traffic.
type Stats struct {
	Messages  int
	Bytes     int64
	Malformed int
	Unknown   int
	Commands  map[string]int
}

// Decoder turns server messages into session calls. It is not safe for
// concurrent use; feed it from the goroutine reading the stream.
type Decoder struct {
	sess      *cfupdate.Session
	faces     *cfface.Registry
	anims     *cfface.Animations
	log       logrus.FieldLogger
	warnLimit *rate.Limiter
	askFace   func(id int)

	width, height int
	stats         Stats
}

// Option configures a Decoder.
type Option func(*Decoder)

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Decoder) { d.log = l }
}

// WithFaceRequester sets the function called for faces whose image the
// client has not seen.
func WithFaceRequester(fn func(id int)) Option {
	return func(d *Decoder) { d.askFace = fn }
}

// WithMapSize sets the viewport size used by newmap before setup replies.
func WithMapSize(w, h int) Option {
	return func(d *Decoder) { d.width, d.height = w, h }
}

// NewDecoder returns a decoder feeding sess. faces and anims receive face2,
// image2 and anim definitions.
func NewDecoder(sess *cfupdate.Session, faces *cfface.Registry, anims *cfface.Animations, opts ...Option) *Decoder {
	d := &Decoder{
		sess:      sess,
		faces:     faces,
		anims:     anims,
		log:       logrus.StandardLogger(),
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 10),
		width:     DefaultMapWidth,
		height:    DefaultMapHeight,
		stats:     Stats{Commands: make(map[string]int)},
	}
	for _, fn := range opts {
		fn(d)
	}
	return d
}

// Session returns the session the decoder feeds.
func (d *Decoder) Session() *cfupdate.Session { return d.sess }

// MapSize returns the negotiated viewport size.
func (d *Decoder) MapSize() (int, int) { return d.width, d.height }

// Stats returns a copy of the counters.
func (d *Decoder) Stats() Stats {
	st := d.stats
	st.Commands = make(map[string]int, len(d.stats.Commands))
	for k, v := range d.stats.Commands {
		st.Commands[k] = v
	}
	return st
}

func malformed(cmd, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", cmd, fmt.Sprintf(format, args...), ErrMalformed)
}

// Dispatch handles msg and logs, rather than returns, decoding errors.
func (d *Decoder) Dispatch(msg []byte) {
	if err := d.Handle(msg); err != nil {
		if d.warnLimit.Allow() {
			d.log.WithError(err).Warn("cfproto: dropped message")
		}
	}
}

// Handle decodes one server message.
func (d *Decoder) Handle(msg []byte) error {
	cmd, data := SplitCommand(msg)
	d.stats.Messages++
	d.stats.Bytes += int64(len(msg))
	d.stats.Commands[cmd]++

	var err error
	switch cmd {
	case "newmap":
		d.sess.NewMap(d.width, d.height)
	case "map2":
		err = d.map2(data)
	case "map_scroll":
		err = d.mapScroll(data)
	case "tick":
		err = d.tick(data)
	case "anim":
		err = d.anim(data)
	case "face2":
		err = d.face2(data)
	case "image2":
		err = d.image2(data)
	case "magicmap":
		err = d.magicMap(data)
	case "setup":
		err = d.setup(data)
	case "version":
		d.log.WithField("version", string(data)).Debug("cfproto: server version")
	default:
		d.stats.Unknown++
		d.log.WithFields(logrus.Fields{"cmd": cmd, "len": len(data)}).Debug("cfproto: ignored command")
	}
	if err != nil {
		d.stats.Malformed++
	}
	return err
}

// map2 applies one map2 message as a single transaction. Updates decoded
// before a malformed byte are kept.
func (d *Decoder) map2(data []byte) error {
	d.sess.Begin()
	defer d.sess.End(false)

	p := 0
	for p < len(data) {
		if p+2 > len(data) {
			return malformed("map2", "short coordinate at %d", p)
		}
		coord := int(binary.BigEndian.Uint16(data[p:]))
		p += 2
		x := (coord>>10)&0x3f - coordOffset
		y := (coord>>4)&0x3f - coordOffset
		switch coord & 0xf {
		case 0:
		case coordScroll:
			d.sess.Scroll(x, y)
			continue
		default:
			return malformed("map2", "coordinate flags %#x", coord&0xf)
		}

		for {
			if p >= len(data) {
				return malformed("map2", "unterminated square %d,%d", x, y)
			}
			b := data[p]
			p++
			if b == coordEnd {
				break
			}
			n := int(b >> 5)
			typ := int(b & 0x1f)
			if typ == typeLabel && n == 7 {
				if p >= len(data) {
					return malformed("map2", "short label at %d", p)
				}
				n = int(data[p])
				p++
			}
			if p+n > len(data) {
				return malformed("map2", "type %#x wants %d bytes at %d", typ, n, p)
			}
			payload := data[p : p+n]
			p += n

			switch {
			case typ == typeClear:
				d.sess.Clear(x, y)
			case typ == typeDarkness:
				if n < 1 {
					return malformed("map2", "darkness without value")
				}
				d.sess.Darkness(x, y, int(payload[0]))
			case typ == typeLabel:
			case typ >= layerStart && typ < layerStart+cfmap.Layers:
				if err := d.layer(x, y, typ-layerStart, payload); err != nil {
					return err
				}
			default:
				d.log.WithFields(logrus.Fields{"type": typ, "x": x, "y": y}).Debug("cfproto: unknown map2 type")
			}
		}
	}
	return nil
}

func (d *Decoder) layer(x, y, layer int, payload []byte) error {
	if len(payload) < 2 {
		return malformed("map2", "layer %d without face", layer)
	}
	face := int(binary.BigEndian.Uint16(payload))
	extra := payload[2:]
	if face&faceIsAnim == 0 {
		d.sess.Face(x, y, layer, face)
		switch len(extra) {
		case 0:
		case 1:
			d.sess.Smooth(x, y, layer, int(extra[0]))
		default:
			d.sess.Smooth(x, y, layer, int(extra[1]))
		}
		return nil
	}

	speed := 1
	if len(extra) > 0 {
		speed = int(extra[0])
	}
	typ := cfanim.Normal
	switch (face >> 13) & 3 {
	case 1:
		typ = cfanim.Random
	case 2:
		typ = cfanim.Sync
	}
	id := face & animMask
	if cur, ok := d.sess.Animation(x, y, layer); ok && cur.Animation == id && cur.Type == typ {
		// The server resends a running animation only to change its speed.
		if cur.Speed != speed {
			d.sess.AnimationSpeed(x, y, layer, speed)
		}
	} else {
		d.sess.AnimatedFace(x, y, layer, id, typ, speed)
	}
	if len(extra) > 1 {
		d.sess.Smooth(x, y, layer, int(extra[1]))
	}
	return nil
}

func (d *Decoder) mapScroll(data []byte) error {
	f := strings.Fields(string(data))
	if len(f) != 2 {
		return malformed("map_scroll", "%q", data)
	}
	dx, err1 := strconv.Atoi(f[0])
	dy, err2 := strconv.Atoi(f[1])
	if err1 != nil || err2 != nil {
		return malformed("map_scroll", "%q", data)
	}
	d.sess.Begin()
	d.sess.Scroll(dx, dy)
	d.sess.End(false)
	return nil
}

func (d *Decoder) tick(data []byte) error {
	if len(data) != 4 {
		return malformed("tick", "length %d", len(data))
	}
	d.sess.Tick(int(binary.BigEndian.Uint32(data)))
	return nil
}

func (d *Decoder) anim(data []byte) error {
	if len(data) < 4 || len(data)%2 != 0 {
		return malformed("anim", "length %d", len(data))
	}
	id := int(binary.BigEndian.Uint16(data))
	flags := int(binary.BigEndian.Uint16(data[2:]))
	faces := make([]int, 0, (len(data)-4)/2)
	for p := 4; p < len(data); p += 2 {
		faces = append(faces, int(binary.BigEndian.Uint16(data[p:])))
	}
	if err := d.anims.Add(id, flags, faces); err != nil {
		return malformed("anim", "animation %d: %v", id, err)
	}
	return nil
}

func (d *Decoder) face2(data []byte) error {
	if len(data) < 7 {
		return malformed("face2", "length %d", len(data))
	}
	id := int(binary.BigEndian.Uint16(data))
	name := data[7:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.faces.SetName(id, decodeLatin1(name))
	if f, _ := d.faces.Lookup(id); f.Width == 0 && d.askFace != nil {
		d.askFace(id)
	}
	return nil
}

func (d *Decoder) image2(data []byte) error {
	if len(data) < 9 {
		return malformed("image2", "length %d", len(data))
	}
	id := int(binary.BigEndian.Uint32(data))
	n := int(binary.BigEndian.Uint32(data[5:]))
	img := data[9:]
	if n != len(img) {
		return malformed("image2", "face %d: length %d, have %d", id, n, len(img))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return malformed("image2", "face %d: %v", id, err)
	}
	d.faces.SetSize(id, cfg.Width, cfg.Height)
	return nil
}

// magicMap paints the magic map centered on the player. The header is
// "width height px py " followed by one byte per square.
func (d *Decoder) magicMap(data []byte) error {
	var hdr [4]int
	p := 0
	for i := range hdr {
		j := bytes.IndexByte(data[p:], ' ')
		if j < 0 {
			return malformed("magicmap", "short header")
		}
		v, err := strconv.Atoi(string(data[p : p+j]))
		if err != nil || v < 0 {
			return malformed("magicmap", "bad header field %q", data[p:p+j])
		}
		hdr[i] = v
		p += j + 1
	}
	w, h, px, py := hdr[0], hdr[1], hdr[2], hdr[3]
	cells := data[p:]
	if w > MaxMessage || h > MaxMessage || px > MaxMessage || py > MaxMessage || len(cells) != w*h {
		return malformed("magicmap", "%dx%d map with %d bytes", w, h, len(cells))
	}

	m := d.sess.Map()
	cx, cy := m.Width()/2, m.Height()/2
	d.sess.Begin()
	defer d.sess.End(false)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x, y := i-px+cx, j-py+cy
			if m.InWindow(x, y) {
				d.sess.MagicMap(x, y, int(cells[j*w+i]))
			}
		}
	}
	return nil
}

// setup reads the server's answer to our setup request. Only mapsize
// affects the map.
func (d *Decoder) setup(data []byte) error {
	f := strings.Fields(string(data))
	if len(f)%2 != 0 {
		return malformed("setup", "odd field count %d", len(f))
	}
	for i := 0; i < len(f); i += 2 {
		key, val := f[i], f[i+1]
		switch key {
		case "mapsize":
			ws, hs, ok := strings.Cut(strings.ToLower(val), "x")
			w, err1 := strconv.Atoi(ws)
			h, err2 := strconv.Atoi(hs)
			if !ok || err1 != nil || err2 != nil || w <= 0 || h <= 0 || w > MaxMapSize || h > MaxMapSize {
				d.log.WithField("mapsize", val).Warn("cfproto: server refused map size")
				continue
			}
			d.width, d.height = w, h
			d.sess.NewMap(w, h)
		case "map2cmd":
			if val != "1" {
				d.log.WithField("map2cmd", val).Warn("cfproto: server does not speak map2")
			}
		default:
			d.log.WithFields(logrus.Fields{"key": key, "value": val}).Debug("cfproto: setup")
		}
	}
	return nil
}
