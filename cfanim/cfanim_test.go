package cfanim

import (
	"math/rand"
	"testing"

	"cfclient/cfface"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fire  = 1 // faces 11,12,13
	torch = 2 // faces 21,22
)

func newTracker(t *testing.T, w, h int) (*Tracker, *test.Hook) {
	t.Helper()
	l, hook := test.NewNullLogger()
	anims := cfface.NewAnimations(cfface.WithLogger(l))
	require.NoError(t, anims.Add(fire, 0, []int{11, 12, 13}))
	require.NoError(t, anims.Add(torch, 0, []int{21, 22}))
	tr := New(anims, WithLogger(l), WithRand(rand.New(rand.NewSource(1))))
	tr.Reset(w, h)
	return tr, hook
}

func TestAddUnknownAnimation(t *testing.T) {
	tr, hook := newTracker(t, 5, 5)
	_, ok := tr.Add(1, 1, 0, 99, Normal, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNormalAdvance(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	face, ok := tr.Add(2, 3, 1, fire, Normal, 1)
	require.True(t, ok)
	assert.Equal(t, 11, face)

	// first tick only stamps the start
	assert.Empty(t, tr.Tick(10))
	s, ok := tr.State(2, 3, 1)
	require.True(t, ok)
	assert.False(t, s.Pending)
	assert.Equal(t, 10, s.LastTick)
	assert.Equal(t, 0, s.Index)

	assert.Equal(t, []Frame{{2, 3, 1, 12}}, tr.Tick(11))
	assert.Equal(t, []Frame{{2, 3, 1, 11}}, tr.Tick(13), "wraps after three faces")
}

func TestSpeedDelaysFrames(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(0, 0, 0, fire, Normal, 3)
	tr.Tick(0)
	assert.Empty(t, tr.Tick(1))
	assert.Empty(t, tr.Tick(2))
	assert.Equal(t, []Frame{{0, 0, 0, 12}}, tr.Tick(3))
	s, _ := tr.State(0, 0, 0)
	assert.Equal(t, 3, s.Index)
	assert.Equal(t, 1, s.Frame)
}

func TestTickRegressionIgnored(t *testing.T) {
	tr, hook := newTracker(t, 5, 5)
	_, _ = tr.Add(1, 1, 0, fire, Normal, 1)
	tr.Tick(4)
	tr.Tick(5)
	before, _ := tr.State(1, 1, 0)

	assert.Nil(t, tr.Tick(3))
	after, _ := tr.State(1, 1, 0)
	assert.Equal(t, before, after)
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	assert.Equal(t, []Frame{{1, 1, 0, 13}}, tr.Tick(6))
}

func TestSetSpeedKeepsFrame(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(0, 0, 0, fire, Normal, 2)
	tr.Tick(0)
	tr.Tick(3)
	s, _ := tr.State(0, 0, 0)
	require.Equal(t, 3, s.Index)
	require.Equal(t, 1, s.Frame)

	tr.SetSpeed(0, 0, 0, 4)
	s, _ = tr.State(0, 0, 0)
	assert.Equal(t, 1, s.Frame)
	assert.Equal(t, 5, s.Index, "one tick into frame 1")
	assert.Equal(t, 4, s.Speed)

	tr.SetSpeed(0, 0, 0, 1)
	s, _ = tr.State(0, 0, 0)
	assert.Equal(t, 1, s.Frame)
	assert.Equal(t, 1, s.Index)

	tr.SetSpeed(4, 4, 0, 3) // nothing there
	tr.SetSpeed(0, 0, 0, 0)
	s, _ = tr.State(0, 0, 0)
	assert.Equal(t, 1, s.Speed)
}

func TestRandomStartsOnFrameBoundary(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	for i := 0; i < 20; i++ {
		face, ok := tr.Add(i%5, 0, 0, fire, Random, 4)
		require.True(t, ok)
		s, _ := tr.State(i%5, 0, 0)
		assert.Equal(t, 0, s.Index%4)
		assert.Contains(t, []int{11, 12, 13}, face)
	}
}

func TestSyncAnimationsAgree(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(0, 0, 0, fire, Sync, 2)
	for n := 1; n <= 7; n++ {
		tr.Tick(n)
	}
	_, _ = tr.Add(4, 4, 0, fire, Sync, 2)
	for n := 8; n <= 20; n++ {
		tr.Tick(n)
		a, _ := tr.State(0, 0, 0)
		b, _ := tr.State(4, 4, 0)
		assert.Equal(t, a.Face, b.Face, "tick %d", n)
	}

	// added while ticks are skipped
	_, _ = tr.Add(2, 2, 0, fire, Sync, 2)
	tr.Tick(31)
	a, _ := tr.State(0, 0, 0)
	c, _ := tr.State(2, 2, 0)
	assert.Equal(t, a.Face, c.Face)
}

func TestRemove(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	for layer := 0; layer < 3; layer++ {
		_, _ = tr.Add(1, 1, layer, fire, Normal, 1)
	}
	_, _ = tr.Add(2, 1, 0, torch, Normal, 1)
	tr.Remove(1, 1, 0)
	assert.Equal(t, 3, tr.Len())
	tr.RemoveAll(1, 1)
	assert.Equal(t, 1, tr.Len())

	// removed pending states are not stamped
	tr.Tick(1)
	assert.Equal(t, []Frame{{2, 1, 0, 22}}, tr.Tick(2))
}

func TestAddReplaces(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(1, 1, 0, fire, Normal, 1)
	tr.Tick(1)
	face, _ := tr.Add(1, 1, 0, torch, Normal, 1)
	assert.Equal(t, 21, face)
	assert.Equal(t, 1, tr.Len())
	assert.Empty(t, tr.Tick(2))
	assert.Equal(t, []Frame{{1, 1, 0, 22}}, tr.Tick(3))
}

func TestScrollShiftsAndPrunes(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(0, 0, 0, fire, Normal, 1)
	_, _ = tr.Add(3, 2, 1, torch, Normal, 1)
	tr.Scroll(1, 0)
	assert.Equal(t, 1, tr.Len())
	_, ok := tr.State(2, 2, 1)
	assert.True(t, ok)
	tr.Tick(1)
	assert.Equal(t, []Frame{{2, 2, 1, 22}}, tr.Tick(2))
}

func TestRemoveOutOfBounds(t *testing.T) {
	tr, _ := newTracker(t, 10, 10)
	_, _ = tr.Add(1, 1, 0, fire, Normal, 1)
	_, _ = tr.Add(8, 8, 0, fire, Normal, 1)
	tr.RemoveOutOfBounds(5, 5)
	assert.Equal(t, 1, tr.Len())
	_, ok := tr.State(8, 8, 0)
	assert.False(t, ok)
}

func TestFramesSorted(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(4, 0, 0, torch, Normal, 1)
	_, _ = tr.Add(0, 3, 0, torch, Normal, 1)
	_, _ = tr.Add(1, 0, 2, torch, Normal, 1)
	_, _ = tr.Add(1, 0, 1, torch, Normal, 1)
	tr.Tick(0)
	assert.Equal(t, []Frame{
		{1, 0, 1, 22},
		{1, 0, 2, 22},
		{4, 0, 0, 22},
		{0, 3, 0, 22},
	}, tr.Tick(1))
}

func TestReset(t *testing.T) {
	tr, _ := newTracker(t, 5, 5)
	_, _ = tr.Add(1, 1, 0, fire, Normal, 1)
	tr.Reset(3, 3)
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Tick(1))
}
