// Package cfupdate applies map updates from the server to the grid and the
// animation tracker in begin/end transactions and tells listeners what
// changed.
package cfupdate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"cfclient/cfanim"
	"cfclient/cfmap"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State is the transaction state of a Session.
type State int

const (
	Idle State = iota
	InTransaction
)

func (s State) String() string {
	if s == InTransaction {
		return "in-transaction"
	}
	return "idle"
}

// Change is passed to listeners once per transaction. When All is set the
// whole view changed and Squares is empty.
type Change struct {
	All     bool
	Squares []cfmap.Pos
}

// Listener receives one Change per closed transaction. Listeners run on the
// caller's goroutine after the session lock is released and may query the
// grid.
type Listener func(Change)

// Stats counts what a session processed.
type Stats struct {
	Transactions  int
	Notifications int
	Ticks         int
	Dropped       int
	OutOfRange    int
}

// Session is the map update state machine. Calls must come from a single
// goroutine, as the protocol decoder delivers them; readers may query the
// grid concurrently.
type Session struct {
	mu        sync.Mutex
	grid      *cfmap.Map
	anims     *cfanim.Tracker
	log       logrus.FieldLogger
	warnLimit *rate.Limiter

	state     State
	dirty     map[cfmap.Pos]struct{}
	all       bool
	listeners []Listener
	stats     Stats
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithWarnRate limits how many protocol warnings are logged per second.
func WithWarnRate(perSecond float64, burst int) Option {
	return func(s *Session) {
		s.warnLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New returns an idle session over grid and anims.
func New(grid *cfmap.Map, anims *cfanim.Tracker, opts ...Option) *Session {
	s := &Session{
		grid:      grid,
		anims:     anims,
		log:       logrus.StandardLogger(),
		warnLimit: rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
		dirty:     make(map[cfmap.Pos]struct{}),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Map returns the grid the session writes to.
func (s *Session) Map() *cfmap.Map { return s.grid }

// AddListener appends fn to the listeners called at the end of each
// transaction, in registration order.
func (s *Session) AddListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current transaction state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// NewMap discards all map and animation state and sets the viewport size.
// An open transaction is abandoned without notifying listeners.
func (s *Session) NewMap(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == InTransaction {
		s.log.Debug("cfupdate: new map while a transaction is open")
	}
	s.state = Idle
	s.grid.Resize(width, height)
	s.anims.Reset(width, height)
	s.resetDirty()
	s.log.WithFields(logrus.Fields{"width": width, "height": height}).Debug("cfupdate: new map")
}

// Reset clears everything, as after a disconnect.
func (s *Session) Reset() { s.NewMap(0, 0) }

// Begin opens a transaction. Opening a second one is a decoder bug and
// panics.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()
}

func (s *Session) begin() {
	if s.state == InTransaction {
		panic("cfupdate: Begin while a transaction is open")
	}
	s.state = InTransaction
	s.resetDirty()
}

func (s *Session) resetDirty() {
	clear(s.dirty)
	s.all = false
}

// End closes the transaction and notifies listeners when anything changed
// or forceRepaint is set. Ending without an open transaction panics.
func (s *Session) End(forceRepaint bool) {
	s.mu.Lock()
	if s.state != InTransaction {
		s.mu.Unlock()
		panic("cfupdate: End without an open transaction")
	}
	ch, notify := s.end(forceRepaint)
	listeners := s.listeners
	s.mu.Unlock()
	if notify {
		for _, fn := range listeners {
			fn(ch)
		}
	}
}

func (s *Session) end(forceRepaint bool) (Change, bool) {
	s.state = Idle
	s.stats.Transactions++
	var ch Change
	switch {
	case forceRepaint || s.all:
		ch.All = true
	case len(s.dirty) > 0:
		ch.Squares = make([]cfmap.Pos, 0, len(s.dirty))
		for p := range s.dirty {
			ch.Squares = append(ch.Squares, p)
		}
		sort.Slice(ch.Squares, func(i, j int) bool {
			a, b := ch.Squares[i], ch.Squares[j]
			if a.Y != b.Y {
				return a.Y < b.Y
			}
			return a.X < b.X
		})
	default:
		return ch, false
	}
	s.resetDirty()
	s.stats.Notifications++
	return ch, true
}

func (s *Session) mark(p cfmap.Pos) {
	if s.grid.InView(p.X, p.Y) {
		s.dirty[p] = struct{}{}
	}
}

// open reports whether a mutation may proceed, dropping it otherwise.
func (s *Session) open(op string) bool {
	if s.state == InTransaction {
		return true
	}
	s.stats.Dropped++
	s.warn(logrus.Fields{"op": op}, "cfupdate: update outside a transaction")
	return false
}

func (s *Session) warn(fields logrus.Fields, msg string) {
	if s.warnLimit.Allow() {
		s.log.WithFields(fields).Warn(msg)
	}
}

// skip reports whether err means the operation should be dropped.
func (s *Session) skip(op string, x, y int, err error) bool {
	if err == nil {
		return false
	}
	s.stats.OutOfRange++
	if errors.Is(err, cfmap.ErrOutOfBounds) {
		s.log.WithFields(logrus.Fields{"op": op, "x": x, "y": y}).Debug("cfupdate: out of range")
	} else {
		s.warn(logrus.Fields{"op": op, "x": x, "y": y, "err": err}, "cfupdate: bad update")
	}
	return true
}

// covered returns the squares whose faces at (x,y) may change when the
// square is next confirmed.
func (s *Session) covered(x, y int) []cfmap.Pos {
	if !s.grid.IsFogOfWar(x, y) {
		return nil
	}
	var ps []cfmap.Pos
	for layer := 0; layer < cfmap.Layers; layer++ {
		ps = append(ps, s.grid.Tails(x, y, layer)...)
	}
	return ps
}

func (s *Session) markAll(ps []cfmap.Pos) {
	for _, p := range ps {
		s.mark(p)
	}
}

// setFace writes face and marks the head together with every square its
// old or new face covers.
func (s *Session) setFace(op string, x, y, layer, face int) {
	before := append(s.covered(x, y), s.grid.Tails(x, y, layer)...)
	changed, err := s.grid.SetFace(x, y, layer, face)
	if s.skip(op, x, y, err) {
		return
	}
	s.mark(cfmap.Pos{X: x, Y: y})
	if changed {
		s.markAll(before)
		s.markAll(s.grid.Tails(x, y, layer))
	}
}

// Face sets a static face, stopping any animation at that layer.
func (s *Session) Face(x, y, layer, face int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("face") {
		return
	}
	if !s.grid.InWindow(x, y) {
		s.skip("face", x, y, cfmap.ErrOutOfBounds)
		return
	}
	s.anims.Remove(x, y, layer)
	s.setFace("face", x, y, layer, face)
}

// AnimatedFace starts animation animID at (x,y,layer). Squares outside the
// viewport show the starting face without animating.
func (s *Session) AnimatedFace(x, y, layer, animID int, typ cfanim.Type, speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("animated face") {
		return
	}
	if !s.grid.InWindow(x, y) || layer < 0 || layer >= cfmap.Layers {
		s.skip("animated face", x, y, cfmap.ErrOutOfBounds)
		return
	}
	face, ok := s.anims.Add(x, y, layer, animID, typ, speed)
	if !ok {
		s.stats.Dropped++
		return
	}
	if !s.grid.InView(x, y) {
		s.anims.Remove(x, y, layer)
	}
	s.setFace("animated face", x, y, layer, face)
}

// AnimationSpeed changes the speed of a running animation.
func (s *Session) AnimationSpeed(x, y, layer, speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("animation speed") {
		return
	}
	s.anims.SetSpeed(x, y, layer, speed)
}

// Animation returns the animation running at (x,y,layer).
func (s *Session) Animation(x, y, layer int) (cfanim.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anims.State(x, y, layer)
}

// Clear marks (x,y) as no longer seen.
func (s *Session) Clear(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("clear") {
		return
	}
	changed, err := s.grid.ClearSquare(x, y)
	if s.skip("clear", x, y, err) {
		return
	}
	s.anims.RemoveAll(x, y)
	s.mark(cfmap.Pos{X: x, Y: y})
	if changed {
		s.markAll(s.covered(x, y))
	}
}

// Darkness sets the light level of (x,y).
func (s *Session) Darkness(x, y, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("darkness") {
		return
	}
	before := s.covered(x, y)
	fogCleared, err := s.grid.SetDarkness(x, y, value)
	if s.skip("darkness", x, y, err) {
		return
	}
	s.mark(cfmap.Pos{X: x, Y: y})
	if fogCleared {
		s.markAll(before)
	}
}

// Smooth sets the smoothing code of a layer.
func (s *Session) Smooth(x, y, layer, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("smooth") {
		return
	}
	before := s.covered(x, y)
	res, err := s.grid.SetSmooth(x, y, layer, value)
	if s.skip("smooth", x, y, err) {
		return
	}
	s.mark(cfmap.Pos{X: x, Y: y})
	if res != cfmap.SmoothNone {
		s.markAll(before)
	}
}

// MagicMap sets the magic map color of (x,y).
func (s *Session) MagicMap(x, y, color int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("magic map") {
		return
	}
	if _, err := s.grid.SetMagicMap(x, y, color); s.skip("magic map", x, y, err) {
		return
	}
	s.mark(cfmap.Pos{X: x, Y: y})
}

// Scroll shifts the view immediately; later updates in the same
// transaction use the new coordinates. The whole view is repainted.
func (s *Session) Scroll(dx, dy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open("scroll") {
		return
	}
	if dx == 0 && dy == 0 {
		return
	}
	s.grid.Scroll(dx, dy)
	s.anims.Scroll(dx, dy)
	s.all = true
}

// Tick advances animations. Outside a transaction it opens and closes its
// own; inside one the changes join the open transaction.
func (s *Session) Tick(n int) {
	s.mu.Lock()
	s.stats.Ticks++
	frames := s.anims.Tick(n)
	if len(frames) == 0 {
		s.mu.Unlock()
		return
	}
	opened := s.state == Idle
	if opened {
		s.begin()
	}
	for _, f := range frames {
		s.setFace("tick", f.X, f.Y, f.Layer, f.Face)
	}
	if !opened {
		s.mu.Unlock()
		return
	}
	ch, notify := s.end(false)
	listeners := s.listeners
	s.mu.Unlock()
	if notify {
		for _, fn := range listeners {
			fn(ch)
		}
	}
}
