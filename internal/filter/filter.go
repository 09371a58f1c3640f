// Package filter smooths tag positions with a per-axis median over a sliding
// window of recent raw samples.
package filter

import (
	"errors"
	"fmt"
	"slices"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/ring"
)

const (
	DefaultWindow  = 10
	DefaultHistory = 100
	MinWindow      = 4
)

// ErrInvalidWindow is returned for a smoothing window that is odd or too small.
var ErrInvalidWindow = errors.New("invalid smoothing window")

// Point is a position in metres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ValidateWindow checks that k is even and at least MinWindow.
func ValidateWindow(k int) error {
	if k < MinWindow || k%2 != 0 {
		return fmt.Errorf("%w: %d (must be even and >= %d)", ErrInvalidWindow, k, MinWindow)
	}
	return nil
}

// Filter holds one device's raw position history and smoothing window.
type Filter struct {
	history *ring.Buffer[Point]
	window  *ring.Buffer[Point]

	xs, ys []float64
}

// New builds a Filter with a smoothing window of k samples and a history of
// historyLen raw samples.
func New(k, historyLen int) (*Filter, error) {
	if err := ValidateWindow(k); err != nil {
		return nil, err
	}
	if historyLen < 1 {
		historyLen = DefaultHistory
	}
	return &Filter{
		history: ring.New[Point](historyLen),
		window:  ring.New[Point](k),
		xs:      make([]float64, k),
		ys:      make([]float64, k),
	}, nil
}

// Apply records raw and returns the position to display. With smoothing on and
// a full window the result is the mean of the two middle values of each axis;
// otherwise raw is returned unchanged.
func (f *Filter) Apply(raw Point, smoothing bool) Point {
	f.history.Push(raw)
	f.window.Push(raw)
	if !smoothing || !f.window.Wrapped() {
		return raw
	}
	for i, p := range f.window.Slots() {
		f.xs[i] = p.X
		f.ys[i] = p.Y
	}
	return Point{X: medianPair(f.xs), Y: medianPair(f.ys)}
}

// medianPair sorts v in place and averages its two middle elements.
func medianPair(v []float64) float64 {
	slices.Sort(v)
	k := len(v)
	return (v[k/2-1] + v[k/2]) / 2
}

// Ready reports whether the history has wrapped at least once.
func (f *Filter) Ready() bool { return f.history.Wrapped() }

// Primed reports whether the smoothing window has filled.
func (f *Filter) Primed() bool { return f.window.Wrapped() }

// Window returns the smoothing window size.
func (f *Filter) Window() int { return f.window.Capacity() }

// History returns the raw samples oldest first.
func (f *Filter) History() []Point { return f.history.Ordered() }

// Reset discards all samples.
func (f *Filter) Reset() {
	f.history.Reset()
	f.window.Reset()
}
