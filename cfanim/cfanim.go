// Package cfanim advances animated map faces on server ticks.
package cfanim

import (
	"math/rand"
	"sort"
	"time"

	"cfclient/cfface"

	"github.com/sirupsen/logrus"
)

// Type selects the starting frame of an animation.
type Type int

const (
	// Normal animations start at their first face.
	Normal Type = iota
	// Random animations start at a random face.
	Random
	// Sync animations show the same face as every other sync instance of
	// the same animation and speed.
	Sync
)

func (t Type) String() string {
	switch t {
	case Normal:
		return "normal"
	case Random:
		return "random"
	case Sync:
		return "sync"
	}
	return "unknown"
}

// AnimationResolver returns the faces of an animation.
type AnimationResolver interface {
	Lookup(id int) (cfface.Animation, bool)
}

// maxLayers mirrors cfmap.Layers; the tracker does not depend on the grid.
const maxLayers = 10

// Frame is a face change produced by Tick.
type Frame struct {
	X, Y  int
	Layer int
	Face  int
}

type key struct {
	x, y, layer int
}

type state struct {
	key
	anim     int
	faces    []int
	typ      Type
	speed    int
	index    int
	lastTick int
	pending  bool
	removed  bool
}

func (s *state) period() int { return s.speed * len(s.faces) }

func (s *state) face() int { return s.faces[s.index/s.speed] }

// Snapshot describes one tracked animation.
type Snapshot struct {
	Animation int
	Type      Type
	Speed     int
	Index     int
	Frame     int
	Face      int
	LastTick  int
	Pending   bool
}

// Tracker owns the animation state of every animated square and layer in
// the viewport. It is not safe for concurrent use; the update session
// serializes access.
type Tracker struct {
	anims   AnimationResolver
	log     logrus.FieldLogger
	rnd     *rand.Rand
	width   int
	height  int
	states  map[key]*state
	pending []*state
	tick    int
	ticked  bool
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithRand sets the source used for Random start frames.
func WithRand(r *rand.Rand) Option {
	return func(t *Tracker) { t.rnd = r }
}

// New returns a tracker for a 0x0 viewport.
func New(anims AnimationResolver, opts ...Option) *Tracker {
	t := &Tracker{
		anims:  anims,
		log:    logrus.StandardLogger(),
		states: make(map[key]*state),
	}
	for _, fn := range opts {
		fn(t)
	}
	if t.rnd == nil {
		t.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return t
}

// Reset drops every animation and sets the viewport size.
func (t *Tracker) Reset(width, height int) {
	for _, s := range t.states {
		s.removed = true
	}
	t.states = make(map[key]*state)
	t.pending = nil
	t.width, t.height = width, height
}

// Len returns the number of tracked animations.
func (t *Tracker) Len() int { return len(t.states) }

// Add starts animation animID at (x,y,layer), replacing what was there, and
// returns the face to display now. It returns false for unknown animations.
func (t *Tracker) Add(x, y, layer, animID int, typ Type, speed int) (int, bool) {
	anim, ok := t.anims.Lookup(animID)
	if !ok {
		t.log.WithFields(logrus.Fields{"animation": animID, "x": x, "y": y, "layer": layer}).
			Warn("cfanim: unknown animation")
		return 0, false
	}
	t.Remove(x, y, layer)
	if speed < 1 {
		speed = 1
	}
	s := &state{
		key:     key{x, y, layer},
		anim:    animID,
		faces:   anim.Faces,
		typ:     typ,
		speed:   speed,
		pending: true,
	}
	switch typ {
	case Random:
		s.index = t.rnd.Intn(len(s.faces)) * speed
	case Sync:
		s.index = t.tick % s.period()
	}
	t.states[s.key] = s
	t.pending = append(t.pending, s)
	return s.face(), true
}

// Remove stops the animation at (x,y,layer).
func (t *Tracker) Remove(x, y, layer int) {
	k := key{x, y, layer}
	if s, ok := t.states[k]; ok {
		s.removed = true
		delete(t.states, k)
	}
}

// RemoveAll stops every animation at (x,y).
func (t *Tracker) RemoveAll(x, y int) {
	for layer := 0; layer < maxLayers; layer++ {
		t.Remove(x, y, layer)
	}
}

// RemoveOutOfBounds stops every animation outside [0,width)x[0,height).
func (t *Tracker) RemoveOutOfBounds(width, height int) {
	for k, s := range t.states {
		if k.x < 0 || k.x >= width || k.y < 0 || k.y >= height {
			s.removed = true
			delete(t.states, k)
		}
	}
}

// Scroll moves every animation by (-dx,-dy), matching the grid, and drops
// those leaving the viewport.
func (t *Tracker) Scroll(dx, dy int) {
	if dx == 0 && dy == 0 {
		return
	}
	moved := make(map[key]*state, len(t.states))
	for k, s := range t.states {
		s.key = key{k.x - dx, k.y - dy, k.layer}
		moved[s.key] = s
	}
	t.states = moved
	t.RemoveOutOfBounds(t.width, t.height)
}

// SetSpeed changes the speed of the animation at (x,y,layer) while keeping
// the displayed face and, as far as possible, the progress towards the next
// one.
func (t *Tracker) SetSpeed(x, y, layer, speed int) {
	s, ok := t.states[key{x, y, layer}]
	if !ok {
		return
	}
	if speed < 1 {
		speed = 1
	}
	frame := s.index / s.speed
	delay := s.index % s.speed
	if delay > speed-1 {
		delay = speed - 1
	}
	s.index = frame*speed + delay
	s.speed = speed
}

// State returns the animation tracked at (x,y,layer).
func (t *Tracker) State(x, y, layer int) (Snapshot, bool) {
	s, ok := t.states[key{x, y, layer}]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Animation: s.anim,
		Type:      s.typ,
		Speed:     s.speed,
		Index:     s.index,
		Frame:     s.index / s.speed,
		Face:      s.face(),
		LastTick:  s.lastTick,
		Pending:   s.pending,
	}, true
}

// Tick advances every animation to tick n and returns the faces that
// changed, ordered by row, column and layer. Animations added since the
// previous tick only record n as their starting point. A tick older than the
// last one is logged and ignored.
func (t *Tracker) Tick(n int) []Frame {
	if t.ticked && n < t.tick {
		t.log.WithFields(logrus.Fields{"tick": n, "last": t.tick}).Warn("cfanim: tick went backwards")
		return nil
	}
	var frames []Frame
	stamped := make(map[*state]bool, len(t.pending))
	for _, s := range t.pending {
		if s.removed {
			continue
		}
		before := s.face()
		s.pending = false
		s.lastTick = n
		if s.typ == Sync {
			s.index = n % s.period()
		}
		stamped[s] = true
		if f := s.face(); f != before {
			frames = append(frames, Frame{s.x, s.y, s.layer, f})
		}
	}
	t.pending = t.pending[:0]

	for _, s := range t.states {
		if stamped[s] {
			continue
		}
		delta := n - s.lastTick
		if delta < 0 {
			t.log.WithFields(logrus.Fields{"tick": n, "last": s.lastTick, "x": s.x, "y": s.y}).
				Warn("cfanim: animation tick went backwards")
			continue
		}
		if delta == 0 {
			continue
		}
		before := s.index / s.speed
		s.index = (s.index + delta) % s.period()
		s.lastTick = n
		if s.index/s.speed != before {
			frames = append(frames, Frame{s.x, s.y, s.layer, s.face()})
		}
	}
	t.tick = n
	t.ticked = true

	sort.Slice(frames, func(i, j int) bool {
		a, b := frames[i], frames[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Layer < b.Layer
	})
	return frames
}
