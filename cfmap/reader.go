package cfmap

// Reader reads a Map whose lock is already held. Obtain one with Map.View.
type Reader struct {
	m *Map
}

func (r Reader) Width() int  { return r.m.width }
func (r Reader) Height() int { return r.m.height }
func (r Reader) Margin() int { return r.m.margin }

func (r Reader) InView(x, y int) bool { return r.m.inView(x, y) }

func (r Reader) square(x, y int) (*Square, bool) {
	i, ok := r.m.index(x, y)
	if !ok {
		return nil, false
	}
	return &r.m.squares[i], true
}

// Square returns a copy of the square at (x,y).
func (r Reader) Square(x, y int) (Square, error) {
	sq, ok := r.square(x, y)
	if !ok {
		return Square{}, ErrOutOfBounds
	}
	return *sq, nil
}

func (r Reader) Face(x, y, layer int) int {
	sq, ok := r.square(x, y)
	if !ok {
		return 0
	}
	return sq.Face(layer)
}

func (r Reader) IsFogOfWar(x, y int) bool {
	sq, ok := r.square(x, y)
	return ok && sq.fog
}

// Darkness returns the darkness of (x,y); squares outside the window are
// reported fully dark.
func (r Reader) Darkness(x, y int) int {
	sq, ok := r.square(x, y)
	if !ok {
		return 0
	}
	return sq.darkness
}

func (r Reader) Smooth(x, y, layer int) int {
	sq, ok := r.square(x, y)
	if !ok {
		return 0
	}
	return sq.Smooth(layer)
}

func (r Reader) MagicMap(x, y int) int {
	sq, ok := r.square(x, y)
	if !ok {
		return 0
	}
	return sq.magicMap
}

func (r Reader) HeadSquare(x, y, layer int) (Pos, bool) {
	sq, ok := r.square(x, y)
	if !ok || layer < 0 || layer >= Layers || !sq.hasHead[layer] {
		return Pos{}, false
	}
	h := sq.heads[layer]
	p := Pos{h.X - r.m.ox, h.Y - r.m.oy}
	if _, ok := r.m.index(p.X, p.Y); !ok {
		return Pos{}, false
	}
	return p, true
}

func (r Reader) Tails(x, y, layer int) []Pos {
	sq, ok := r.square(x, y)
	if !ok || layer < 0 || layer >= Layers {
		return nil
	}
	var tails []Pos
	r.m.eachTail(x, y, sq.faces[layer], func(p Pos, _ *Square) {
		tails = append(tails, p)
	})
	return tails
}
