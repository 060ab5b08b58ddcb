package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"cfclient/cfmap"
	"cfclient/cfproto"
	"cfclient/mapview"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/remeh/sizedwaitgroup"
)

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

// replayer feeds recorded server messages through a client.
type replayer struct {
	c      *client
	frames [][]byte
	fps    int
	cur    int // number of frames processed
	bytes  int64
	start  time.Time
	took   time.Duration
	skips  chan int
}

func newReplayer(c *client, frames [][]byte, fps int) *replayer {
	p := &replayer{c: c, frames: frames, fps: fps, skips: make(chan int, 1)}
	for _, f := range frames {
		p.bytes += int64(len(f)) + 2
	}
	return p
}

// run plays every frame, paced at fps when fps > 0.
func (p *replayer) run(ctx context.Context) error {
	p.start = time.Now()
	defer func() { p.took = time.Since(p.start) }()
	if p.fps <= 0 {
		for !p.done() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case n := <-p.skips:
				p.seek(p.cur + n)
			default:
				p.step()
			}
		}
		return nil
	}
	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()
	for !p.done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-p.skips:
			p.seek(p.cur + n)
		case <-ticker.C:
			p.step()
		}
	}
	return nil
}

// play runs the recording and keeps serving skips after the last frame
// until ctx is done.
func (p *replayer) play(ctx context.Context) error {
	for {
		if err := p.run(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-p.skips:
			p.seek(p.cur + n)
		}
	}
}

// skip asks a running replayer to move n frames forward, or backward when
// n is negative. A request made while another is pending is dropped.
func (p *replayer) skip(n int) {
	select {
	case p.skips <- n:
	default:
	}
}

func (p *replayer) done() bool { return p.cur >= len(p.frames) }

func (p *replayer) step() {
	if p.done() {
		return
	}
	m := p.frames[p.cur]
	logDebugPacket("replay", m)
	p.c.dec.Dispatch(m)
	p.cur++
}

// seek rebuilds the map from the start of the recording up to frame idx.
func (p *replayer) seek(idx int) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(p.frames) {
		idx = len(p.frames)
	}
	p.c.sess.NewMap(p.c.dec.MapSize())
	p.cur = 0
	for p.cur < idx {
		p.step()
	}
	p.c.sess.Begin()
	p.c.sess.End(true)
}

// duration is the playback time of the recording at the configured fps.
func (p *replayer) duration() time.Duration {
	if p.fps <= 0 {
		return p.took
	}
	return time.Duration(len(p.frames)) * time.Second / time.Duration(p.fps)
}

func (p *replayer) summary() string {
	st := p.c.sess.Stats()
	d := p.duration().Round(time.Millisecond)
	return fmt.Sprintf("%s: %d messages, %s, played in %s, %d transactions, %d ticks, %d repaints",
		p.c.name,
		len(p.frames),
		humanize.Bytes(uint64(p.bytes)),
		durafmt.Parse(d).LimitFirstN(2).Format(shortUnits),
		st.Transactions,
		st.Ticks,
		p.c.changes,
	)
}

// parseRecording loads the server messages of a recording. Files ending
// in .pcap or .pcapng are read as packet captures, anything else as the
// raw length-prefixed stream written by --record.
func parseRecording(path string) ([][]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
		return readPcap(path, gs.ServerPort)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFrames(bufio.NewReader(f))
}

func readFrames(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	for {
		m, err := cfproto.ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		frames = append(frames, m)
	}
}

// replayFiles replays paths concurrently, at most gs.Jobs at a time, and
// prints a summary for each. It returns the number of files that failed.
func replayFiles(ctx context.Context, paths []string, out io.Writer) int {
	var (
		mu     sync.Mutex
		failed int
	)
	swg := sizedwaitgroup.New(gs.Jobs)
	for _, path := range paths {
		if err := swg.AddWithContext(ctx); err != nil {
			break
		}
		go func(path string) {
			defer swg.Done()
			text, err := replayFile(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logError("replay %s: %v", path, err)
				failed++
				return
			}
			fmt.Fprint(out, text)
		}(path)
	}
	swg.Wait()
	return failed
}

func replayFile(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	frames, err := parseRecording(path)
	if err != nil {
		return "", err
	}
	c, err := newClient(filepath.Base(path))
	if err != nil {
		return "", err
	}
	p := newReplayer(c, frames, gs.FPS)
	if err := p.run(ctx); err != nil {
		return "", err
	}
	c.logStats()

	var sb strings.Builder
	sb.WriteString(p.summary())
	sb.WriteByte('\n')
	if gs.Dump {
		c.grid.View(func(r cfmap.Reader) {
			err = mapview.Render(r, &sb, nil)
		})
	}
	return sb.String(), err
}
