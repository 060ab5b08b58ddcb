package cfmap

// Square is the state of one map square. Values returned by Map are copies.
type Square struct {
	faces    [Layers]int
	heads    [Layers]Pos // absolute coordinates
	hasHead  [Layers]bool
	smooth   [Layers]int
	darkness int
	magicMap int
	fog      bool
}

func newSquare() Square {
	return Square{darkness: DefaultDarkness}
}

// Face returns the face painted at layer, or 0.
func (s Square) Face(layer int) int {
	if layer < 0 || layer >= Layers {
		return 0
	}
	return s.faces[layer]
}

// Smooth returns the smoothing code of layer.
func (s Square) Smooth(layer int) int {
	if layer < 0 || layer >= Layers {
		return 0
	}
	return s.smooth[layer]
}

func (s Square) Darkness() int { return s.darkness }

func (s Square) MagicMap() int { return s.magicMap }

// FogOfWar reports whether the contents are last-known rather than confirmed.
func (s Square) FogOfWar() bool { return s.fog }

// IsTail reports whether the square shows part of another square's face at
// layer.
func (s Square) IsTail(layer int) bool {
	if layer < 0 || layer >= Layers {
		return false
	}
	return s.hasHead[layer]
}

// forget drops remembered faces and smoothing. Links to heads stay; they
// belong to the head square.
func (s *Square) forget() {
	s.faces = [Layers]int{}
	s.smooth = [Layers]int{}
}
