package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWindow(t *testing.T) {
	for _, k := range []int{4, 6, 10, 100} {
		assert.NoError(t, ValidateWindow(k), "k=%d", k)
	}
	for _, k := range []int{-2, 0, 2, 3, 5, 11} {
		assert.ErrorIs(t, ValidateWindow(k), ErrInvalidWindow, "k=%d", k)
	}
	_, err := New(7, 100)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestApplyPassesRawUntilPrimed(t *testing.T) {
	f, err := New(4, 100)
	require.NoError(t, err)

	for i, x := range []float64{5, 1, 3} {
		p := Point{X: x, Y: -x}
		assert.Equal(t, p, f.Apply(p, true), "sample %d", i)
		assert.False(t, f.Primed())
	}
}

func TestApplyEvenWindowMedian(t *testing.T) {
	f, err := New(4, 100)
	require.NoError(t, err)

	xs := []float64{5, 1, 3, 7, 2, 4}
	var got []Point
	for _, x := range xs {
		got = append(got, f.Apply(Point{X: x, Y: 10 * x}, true))
	}
	require.True(t, f.Primed())

	// window {5,1,3,7} -> sorted 1,3,5,7 -> (3+5)/2
	assert.InDelta(t, 4.0, got[3].X, 1e-12)
	assert.InDelta(t, 40.0, got[3].Y, 1e-12)
	// window {2,1,3,7} -> 1,2,3,7 -> 2.5
	assert.InDelta(t, 2.5, got[4].X, 1e-12)
	// window {2,4,3,7} -> 2,3,4,7 -> 3.5
	assert.InDelta(t, 3.5, got[5].X, 1e-12)
	assert.InDelta(t, 35.0, got[5].Y, 1e-12)
}

func TestApplySmoothingDisabled(t *testing.T) {
	f, err := New(4, 100)
	require.NoError(t, err)

	for _, x := range []float64{5, 1, 3, 7, 2} {
		p := Point{X: x}
		assert.Equal(t, p, f.Apply(p, false))
	}
	// The window still filled while smoothing was off.
	assert.True(t, f.Primed())
	assert.InDelta(t, 3.5, f.Apply(Point{X: 4}, true).X, 1e-12)
}

func TestHistoryReadyAndReset(t *testing.T) {
	f, err := New(4, 5)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.Apply(Point{X: float64(i)}, true)
	}
	assert.False(t, f.Ready())
	f.Apply(Point{X: 4}, true)
	assert.True(t, f.Ready())
	f.Apply(Point{X: 5}, true)

	hist := f.History()
	require.Len(t, hist, 5)
	assert.Equal(t, 1.0, hist[0].X)
	assert.Equal(t, 5.0, hist[4].X)

	f.Reset()
	assert.False(t, f.Ready())
	assert.False(t, f.Primed())
	assert.Empty(t, f.History())
	assert.Equal(t, 4, f.Window())
}
