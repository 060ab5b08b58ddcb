// Package cfmap keeps the client's copy of the map window. Coordinates are
// the ones the server uses: relative to the current view, with (0,0) the
// top-left viewport square. Scrolling moves the view over an internal
// absolute origin so remembered squares keep their place.
package cfmap

import (
	"errors"
	"fmt"
	"sync"

	"cfclient/cfface"
)

const (
	// Layers is the number of face layers per square.
	Layers = 10
	// DefaultDarkness is the darkness of a square the server never lit.
	DefaultDarkness = 255
	// DefaultMargin is the number of squares kept around the viewport. It
	// must cover the tails of the largest face.
	DefaultMargin = cfface.MaxFootprint
)

var (
	// ErrOutOfBounds is returned for coordinates outside the window.
	ErrOutOfBounds = errors.New("cfmap: coordinate out of bounds")
	// ErrBadLayer is returned for layers outside 0..Layers-1.
	ErrBadLayer = errors.New("cfmap: layer out of range")
)

// Pos is a view-relative square coordinate.
type Pos struct {
	X, Y int
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// FaceResolver reports how many squares a face covers.
type FaceResolver interface {
	Footprint(face int) (w, h int)
}

// SmoothResult tells what SetSmooth changed.
type SmoothResult int

const (
	SmoothNone SmoothResult = iota
	SmoothFogCleared
	SmoothChanged
)

// Map is the window of squares around the viewport. It is safe for one
// writer and concurrent readers; each primitive operation takes the lock
// once.
type Map struct {
	mu     sync.RWMutex
	faces  FaceResolver
	margin int

	width, height int
	stride, rows  int
	ox, oy        int
	squares       []Square
}

// Option configures a Map.
type Option func(*Map)

// WithMargin sets how many squares are remembered beyond each viewport edge.
func WithMargin(n int) Option {
	return func(m *Map) {
		if n >= 0 {
			m.margin = n
		}
	}
}

// New returns an empty 0x0 map. faces may be nil, in which case every face
// covers one square.
func New(faces FaceResolver, opts ...Option) *Map {
	m := &Map{faces: faces, margin: DefaultMargin}
	for _, fn := range opts {
		fn(m)
	}
	m.alloc(0, 0)
	return m
}

func (m *Map) alloc(w, h int) {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	m.width, m.height = w, h
	m.stride = w + 2*m.margin
	m.rows = h + 2*m.margin
	m.ox, m.oy = 0, 0
	m.squares = make([]Square, m.stride*m.rows)
	for i := range m.squares {
		m.squares[i] = newSquare()
	}
}

// Resize discards all content and sets the viewport size.
func (m *Map) Resize(w, h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alloc(w, h)
}

// View calls fn with a Reader under the read lock. fn must not call back
// into m.
func (m *Map) View(fn func(r Reader)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(Reader{m: m})
}

func (m *Map) index(x, y int) (int, bool) {
	if x < -m.margin || x >= m.width+m.margin || y < -m.margin || y >= m.height+m.margin {
		return 0, false
	}
	return (y+m.margin)*m.stride + x + m.margin, true
}

func (m *Map) inView(x, y int) bool {
	return x >= 0 && x < m.width && y >= 0 && y < m.height
}

func (m *Map) locate(x, y, layer int) (int, error) {
	if layer < 0 || layer >= Layers {
		return 0, fmt.Errorf("layer %d: %w", layer, ErrBadLayer)
	}
	i, ok := m.index(x, y)
	if !ok {
		return 0, fmt.Errorf("%v: %w", Pos{x, y}, ErrOutOfBounds)
	}
	return i, nil
}

func (m *Map) abs(x, y int) Pos { return Pos{x + m.ox, y + m.oy} }

func (m *Map) footprint(face int) (int, int) {
	if m.faces == nil || face == 0 {
		return 1, 1
	}
	return m.faces.Footprint(face)
}

// eachTail calls fn for every square in the window covered by face when its
// head sits at (x,y). Tails extend left and up from the head.
func (m *Map) eachTail(x, y, face int, fn func(p Pos, sq *Square)) {
	if face == 0 {
		return
	}
	fw, fh := m.footprint(face)
	for dy := 0; dy < fh; dy++ {
		for dx := 0; dx < fw; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			tx, ty := x-dx, y-dy
			if i, ok := m.index(tx, ty); ok {
				fn(Pos{tx, ty}, &m.squares[i])
			}
		}
	}
}

func (m *Map) linkTails(x, y, layer, face int, setAlways bool) {
	head := m.abs(x, y)
	m.eachTail(x, y, face, func(_ Pos, t *Square) {
		if setAlways || t.fog {
			t.heads[layer] = head
			t.hasHead[layer] = true
		}
	})
}

func (m *Map) unlinkTails(x, y, layer, face int) {
	head := m.abs(x, y)
	m.eachTail(x, y, face, func(_ Pos, t *Square) {
		if t.hasHead[layer] && t.heads[layer] == head {
			t.hasHead[layer] = false
		}
	})
}

// confirm marks the square at (x,y) as refreshed by the server. A square
// leaving fog-of-war drops its remembered faces first since the server
// resends everything it still shows.
func (m *Map) confirm(x, y int, sq *Square) bool {
	if !sq.fog {
		return false
	}
	for layer := 0; layer < Layers; layer++ {
		m.unlinkTails(x, y, layer, sq.faces[layer])
	}
	sq.forget()
	sq.fog = false
	return true
}

// SetFace paints face at layer of (x,y) and links the tails of a multi-square
// face. It reports whether the visible contents changed.
func (m *Map) SetFace(x, y, layer, face int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, layer)
	if err != nil {
		return false, err
	}
	sq := &m.squares[i]
	wasFog := m.confirm(x, y, sq)
	old := sq.faces[layer]
	if old == face {
		return wasFog, nil
	}
	m.unlinkTails(x, y, layer, old)
	sq.faces[layer] = face
	m.linkTails(x, y, layer, face, true)
	return true, nil
}

// SetHeadSquare links (x,y) at layer to the head square at view position
// head, or unlinks it when head is nil. Unless setAlways is set only squares
// in fog-of-war are touched.
func (m *Map) SetHeadSquare(x, y, layer int, head *Pos, setAlways bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, layer)
	if err != nil {
		return err
	}
	sq := &m.squares[i]
	if !setAlways && !sq.fog {
		return nil
	}
	if head == nil {
		sq.hasHead[layer] = false
		return nil
	}
	sq.heads[layer] = m.abs(head.X, head.Y)
	sq.hasHead[layer] = true
	return nil
}

// ClearSquare marks (x,y) as no longer confirmed. The faces stay as
// last-known content and keep covering tails that are themselves stale.
func (m *Map) ClearSquare(x, y int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, 0)
	if err != nil {
		return false, err
	}
	sq := &m.squares[i]
	if sq.fog {
		return false, nil
	}
	sq.fog = true
	for layer := 0; layer < Layers; layer++ {
		m.linkTails(x, y, layer, sq.faces[layer], false)
	}
	return true, nil
}

// SetDarkness sets the darkness of (x,y), clamped to 0..255. It reports
// whether fog-of-war was cleared.
func (m *Map) SetDarkness(x, y, value int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, 0)
	if err != nil {
		return false, err
	}
	sq := &m.squares[i]
	fogCleared := m.confirm(x, y, sq)
	sq.darkness = clampDarkness(value)
	return fogCleared, nil
}

func clampDarkness(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// SetSmooth sets the smoothing code of layer at (x,y).
func (m *Map) SetSmooth(x, y, layer, value int) (SmoothResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, layer)
	if err != nil {
		return SmoothNone, err
	}
	sq := &m.squares[i]
	fogCleared := m.confirm(x, y, sq)
	if sq.smooth[layer] != value {
		sq.smooth[layer] = value
		return SmoothChanged, nil
	}
	if fogCleared {
		return SmoothFogCleared, nil
	}
	return SmoothNone, nil
}

// SetMagicMap sets the magic map color of (x,y). Magic mapping shows
// remembered terrain and does not confirm the square.
func (m *Map) SetMagicMap(x, y, color int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.locate(x, y, 0)
	if err != nil {
		return false, err
	}
	sq := &m.squares[i]
	if sq.magicMap == color {
		return false, nil
	}
	sq.magicMap = color
	return true, nil
}

// ResetFogOfWar clears the fog flag of (x,y) without touching its contents
// and returns the previous flag.
func (m *Map) ResetFogOfWar(x, y int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index(x, y)
	if !ok {
		return false
	}
	was := m.squares[i].fog
	m.squares[i].fog = false
	return was
}

// Scroll moves the view by (dx,dy) squares: the square previously at
// (x+dx,y+dy) is afterwards addressed as (x,y). Squares pushed out of the
// viewport stay remembered in fog-of-war while they remain in the window;
// squares pushed out of the window are discarded.
func (m *Map) Scroll(dx, dy int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dx == 0 && dy == 0 {
		return
	}
	fresh := make([]Square, len(m.squares))
	for wy := 0; wy < m.rows; wy++ {
		for wx := 0; wx < m.stride; wx++ {
			x, y := wx-m.margin, wy-m.margin
			n := wy*m.stride + wx
			j, ok := m.index(x+dx, y+dy)
			if !ok {
				fresh[n] = newSquare()
				continue
			}
			sq := m.squares[j]
			if m.inView(x+dx, y+dy) && !m.inView(x, y) {
				sq.fog = true
			}
			fresh[n] = sq
		}
	}
	m.squares = fresh
	m.ox += dx
	m.oy += dy
}

func (m *Map) Width() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width
}

func (m *Map) Height() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

func (m *Map) Margin() int { return m.margin }

// InView reports whether (x,y) lies in the viewport.
func (m *Map) InView(x, y int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inView(x, y)
}

// InWindow reports whether (x,y) is addressable.
func (m *Map) InWindow(x, y int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index(x, y)
	return ok
}

// Square returns a copy of the square at (x,y).
func (m *Map) Square(x, y int) (Square, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.Square(x, y)
}

func (m *Map) Face(x, y, layer int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.Face(x, y, layer)
}

func (m *Map) IsFogOfWar(x, y int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.IsFogOfWar(x, y)
}

func (m *Map) Darkness(x, y int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.Darkness(x, y)
}

func (m *Map) Smooth(x, y, layer int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.Smooth(x, y, layer)
}

func (m *Map) MagicMap(x, y int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.MagicMap(x, y)
}

// HeadSquare returns the position of the head square whose face covers
// (x,y) at layer.
func (m *Map) HeadSquare(x, y, layer int) (Pos, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.HeadSquare(x, y, layer)
}

// Tails lists the window positions covered by the face at (x,y,layer),
// excluding (x,y) itself.
func (m *Map) Tails(x, y, layer int) []Pos {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Reader{m}.Tails(x, y, layer)
}
