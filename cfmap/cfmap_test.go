package cfmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sizes maps face ids to footprints; unknown faces are 1x1.
type sizes map[int][2]int

func (s sizes) Footprint(face int) (int, int) {
	if fp, ok := s[face]; ok {
		return fp[0], fp[1]
	}
	return 1, 1
}

const (
	grass = 1
	wall  = 2
	tower = 10 // 2x2
	giant = 11 // 3x2
)

func newTestMap(w, h int) *Map {
	m := New(sizes{tower: {2, 2}, giant: {3, 2}})
	m.Resize(w, h)
	return m
}

func TestResize(t *testing.T) {
	m := newTestMap(5, 4)
	assert.Equal(t, 5, m.Width())
	assert.Equal(t, 4, m.Height())
	_, err := m.SetFace(2, 2, 0, grass)
	require.NoError(t, err)

	m.Resize(7, 7)
	assert.Equal(t, 0, m.Face(2, 2, 0))
	assert.Equal(t, DefaultDarkness, m.Darkness(2, 2))
	assert.False(t, m.IsFogOfWar(2, 2))
}

func TestOutOfBounds(t *testing.T) {
	m := newTestMap(5, 5)
	_, err := m.SetFace(5+DefaultMargin, 0, 0, grass)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.SetFace(0, -DefaultMargin-1, 0, grass)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.SetFace(0, 0, Layers, grass)
	assert.ErrorIs(t, err, ErrBadLayer)
	_, err = m.Square(100, 100)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.ClearSquare(-100, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// the margin is addressable but not part of the view
	_, err = m.SetFace(-1, -1, 0, grass)
	require.NoError(t, err)
	assert.True(t, m.InWindow(-1, -1))
	assert.False(t, m.InView(-1, -1))
}

func TestSetFaceReportsChange(t *testing.T) {
	m := newTestMap(5, 5)
	changed, err := m.SetFace(1, 1, 0, grass)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, _ = m.SetFace(1, 1, 0, grass)
	assert.False(t, changed)
	changed, _ = m.SetFace(1, 1, 0, wall)
	assert.True(t, changed)
	changed, _ = m.SetFace(1, 1, 0, 0)
	assert.True(t, changed)
	assert.Equal(t, 0, m.Face(1, 1, 0))
}

func TestClearThenRefresh(t *testing.T) {
	m := newTestMap(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			_, err := m.SetFace(x, y, 0, wall)
			require.NoError(t, err)
			_, err = m.SetFace(x, y, 1, grass)
			require.NoError(t, err)
		}
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			changed, err := m.ClearSquare(x, y)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.True(t, m.IsFogOfWar(x, y))
			assert.Equal(t, wall, m.Face(x, y, 0), "cleared squares keep last-known faces")

			changed, err = m.SetFace(x, y, 0, grass)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.False(t, m.IsFogOfWar(x, y))
			assert.Equal(t, grass, m.Face(x, y, 0))
			assert.Equal(t, 0, m.Face(x, y, 1), "stale layers are dropped on refresh")
		}
	}
}

func TestClearTwice(t *testing.T) {
	m := newTestMap(3, 3)
	changed, _ := m.ClearSquare(1, 1)
	assert.True(t, changed)
	changed, _ = m.ClearSquare(1, 1)
	assert.False(t, changed)
}

func TestMultiSquareFace(t *testing.T) {
	m := newTestMap(6, 6)
	_, err := m.SetFace(3, 3, 0, grass)
	require.NoError(t, err)
	_, err = m.SetFace(2, 3, 0, wall)
	require.NoError(t, err)

	changed, err := m.SetFace(3, 3, 2, tower)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, tower, m.Face(3, 3, 2))

	for _, p := range []Pos{{2, 3}, {3, 2}, {2, 2}} {
		head, ok := m.HeadSquare(p.X, p.Y, 2)
		require.True(t, ok, "tail %v", p)
		assert.Equal(t, Pos{3, 3}, head)
		assert.Equal(t, 0, m.Face(p.X, p.Y, 2), "tail %v keeps its own face", p)
	}
	assert.Equal(t, wall, m.Face(2, 3, 0))
	_, ok := m.HeadSquare(3, 3, 2)
	assert.False(t, ok)
	_, ok = m.HeadSquare(1, 3, 2)
	assert.False(t, ok)
	assert.ElementsMatch(t, []Pos{{2, 3}, {3, 2}, {2, 2}}, m.Tails(3, 3, 2))

	// replacing the head with a single-square face unlinks the tails
	_, err = m.SetFace(3, 3, 2, grass)
	require.NoError(t, err)
	for _, p := range []Pos{{2, 3}, {3, 2}, {2, 2}} {
		_, ok := m.HeadSquare(p.X, p.Y, 2)
		assert.False(t, ok, "tail %v", p)
	}
}

func TestMultiSquareTailOwnedByNewerHead(t *testing.T) {
	m := newTestMap(6, 6)
	_, err := m.SetFace(3, 3, 0, tower)
	require.NoError(t, err)
	// (2,2) becomes a tail of (2,3)'s face
	_, err = m.SetFace(2, 3, 0, tower)
	require.NoError(t, err)
	head, ok := m.HeadSquare(2, 2, 0)
	require.True(t, ok)
	assert.Equal(t, Pos{2, 3}, head)

	// removing the older head must not unlink the newer one
	_, err = m.SetFace(3, 3, 0, 0)
	require.NoError(t, err)
	head, ok = m.HeadSquare(2, 2, 0)
	require.True(t, ok)
	assert.Equal(t, Pos{2, 3}, head)
	_, ok = m.HeadSquare(3, 2, 0)
	assert.False(t, ok)
}

func TestMultiSquareTailsInMargin(t *testing.T) {
	m := newTestMap(4, 4)
	_, err := m.SetFace(0, 1, 0, giant)
	require.NoError(t, err)
	for _, p := range []Pos{{-1, 1}, {-2, 1}, {0, 0}, {-1, 0}, {-2, 0}} {
		head, ok := m.HeadSquare(p.X, p.Y, 0)
		require.True(t, ok, "tail %v", p)
		assert.Equal(t, Pos{0, 1}, head)
	}
}

func TestSetHeadSquare(t *testing.T) {
	m := newTestMap(5, 5)
	head := Pos{3, 3}
	require.NoError(t, m.SetHeadSquare(2, 2, 1, &head, false))
	_, ok := m.HeadSquare(2, 2, 1)
	assert.False(t, ok, "confirmed squares ignore presumed links")

	require.NoError(t, m.SetHeadSquare(2, 2, 1, &head, true))
	got, ok := m.HeadSquare(2, 2, 1)
	require.True(t, ok)
	assert.Equal(t, head, got)

	_, _ = m.ClearSquare(2, 2)
	require.NoError(t, m.SetHeadSquare(2, 2, 1, nil, false))
	_, ok = m.HeadSquare(2, 2, 1)
	assert.False(t, ok)
}

func TestClearedHeadRelinksStaleTails(t *testing.T) {
	m := newTestMap(6, 6)
	_, err := m.SetFace(3, 3, 0, tower)
	require.NoError(t, err)

	// tail (2,2) is cleared and its link dropped, tail (3,2) gets a new head
	_, _ = m.ClearSquare(2, 2)
	require.NoError(t, m.SetHeadSquare(2, 2, 0, nil, true))
	other := Pos{4, 2}
	require.NoError(t, m.SetHeadSquare(3, 2, 0, &other, true))

	_, err = m.ClearSquare(3, 3)
	require.NoError(t, err)

	head, ok := m.HeadSquare(2, 2, 0)
	require.True(t, ok, "stale tail is relinked")
	assert.Equal(t, Pos{3, 3}, head)
	head, ok = m.HeadSquare(3, 2, 0)
	require.True(t, ok)
	assert.Equal(t, other, head, "confirmed tail keeps its head")
}

func TestDarkness(t *testing.T) {
	m := newTestMap(3, 3)
	fogCleared, err := m.SetDarkness(1, 1, 100)
	require.NoError(t, err)
	assert.False(t, fogCleared)
	assert.Equal(t, 100, m.Darkness(1, 1))

	_, _ = m.ClearSquare(1, 1)
	fogCleared, err = m.SetDarkness(1, 1, 100)
	require.NoError(t, err)
	assert.True(t, fogCleared)
	assert.False(t, m.IsFogOfWar(1, 1))

	_, _ = m.SetDarkness(1, 1, 900)
	assert.Equal(t, 255, m.Darkness(1, 1))
	_, _ = m.SetDarkness(1, 1, -3)
	assert.Equal(t, 0, m.Darkness(1, 1))
}

func TestSmooth(t *testing.T) {
	m := newTestMap(3, 3)
	res, err := m.SetSmooth(1, 1, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, SmoothChanged, res)
	res, _ = m.SetSmooth(1, 1, 2, 5)
	assert.Equal(t, SmoothNone, res)
	_, _ = m.ClearSquare(1, 1)
	res, _ = m.SetSmooth(1, 1, 2, 0)
	assert.Equal(t, SmoothFogCleared, res)
	assert.Equal(t, 0, m.Smooth(1, 1, 2))
}

func TestMagicMapKeepsFog(t *testing.T) {
	m := newTestMap(3, 3)
	_, _ = m.ClearSquare(0, 0)
	changed, err := m.SetMagicMap(0, 0, 7)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 7, m.MagicMap(0, 0))
	assert.True(t, m.IsFogOfWar(0, 0))
	changed, _ = m.SetMagicMap(0, 0, 7)
	assert.False(t, changed)
}

func TestResetFogOfWar(t *testing.T) {
	m := newTestMap(3, 3)
	_, _ = m.SetFace(1, 1, 0, wall)
	_, _ = m.ClearSquare(1, 1)
	assert.True(t, m.ResetFogOfWar(1, 1))
	assert.False(t, m.ResetFogOfWar(1, 1))
	assert.Equal(t, wall, m.Face(1, 1, 0))
	assert.False(t, m.ResetFogOfWar(99, 99))
}

func TestScrollAndBack(t *testing.T) {
	const w, h = 6, 5
	scrolls := []Pos{{1, 0}, {0, -2}, {3, 2}, {-DefaultMargin, 0}, {2, DefaultMargin}}
	for _, s := range scrolls {
		m := newTestMap(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				_, err := m.SetFace(x, y, 0, 100+y*w+x)
				require.NoError(t, err)
			}
		}
		m.Scroll(s.X, s.Y)
		m.Scroll(-s.X, -s.Y)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				assert.Equal(t, 100+y*w+x, m.Face(x, y, 0), "scroll %v square (%d,%d)", s, x, y)
				leftView := x-s.X < 0 || x-s.X >= w || y-s.Y < 0 || y-s.Y >= h
				assert.Equal(t, leftView, m.IsFogOfWar(x, y), "scroll %v square (%d,%d)", s, x, y)
			}
		}
	}
}

func TestScrollDiscardsBeyondWindow(t *testing.T) {
	m := newTestMap(4, 4)
	_, _ = m.SetFace(0, 0, 0, wall)
	m.Scroll(4+DefaultMargin, 0)
	m.Scroll(-4-DefaultMargin, 0)
	assert.Equal(t, 0, m.Face(0, 0, 0))
	assert.False(t, m.IsFogOfWar(0, 0))
}

func TestScrollMovesContent(t *testing.T) {
	m := newTestMap(5, 5)
	_, _ = m.SetFace(3, 2, 0, wall)
	m.Scroll(1, 0)
	assert.Equal(t, wall, m.Face(2, 2, 0))
	assert.Equal(t, 0, m.Face(3, 2, 0))
	assert.False(t, m.IsFogOfWar(2, 2))
}

func TestScrollKeepsHeadLinks(t *testing.T) {
	m := newTestMap(6, 6)
	_, _ = m.SetFace(3, 3, 0, tower)
	m.Scroll(-1, -1)
	head, ok := m.HeadSquare(3, 3, 0)
	require.True(t, ok)
	assert.Equal(t, Pos{4, 4}, head)

	// head at x=4 leaves the window, the tail at x=3 stays on its edge
	m.Scroll(-10, 0)
	sq, err := m.Square(13, 4)
	require.NoError(t, err)
	assert.True(t, sq.IsTail(0))
	_, ok = m.HeadSquare(13, 4, 0)
	assert.False(t, ok)
}

func TestViewConcurrentReader(t *testing.T) {
	m := newTestMap(8, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.View(func(r Reader) {
				for y := 0; y < r.Height(); y++ {
					for x := 0; x < r.Width(); x++ {
						_ = r.Face(x, y, 0)
						_ = r.IsFogOfWar(x, y)
					}
				}
			})
		}
	}()
	for i := 0; i < 200; i++ {
		_, _ = m.SetFace(i%8, (i/8)%8, 0, i+1)
		if i%20 == 0 {
			m.Scroll(1, 0)
		}
	}
	wg.Wait()
}
