package dsp

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FloorTracker maintains a bounded FIFO history of recent window energies
// and derives a robust percentile-based noise floor from it. The history is
// scoped to a single channel dwell: the scheduler calls Clear on every
// retune so estimates never carry over between channels.
//
// No estimate is produced until the history is full. Early estimates over a
// partial history would be biased by whatever happened to arrive first.
type FloorTracker struct {
	percentile float64 // 0..100

	history []float64 // fixed-capacity ring
	next    int
	size    int

	scratch []float64 // reused sort buffer for quantile computation
}

// NewFloorTracker creates a tracker holding the most recent capacity window
// energies, estimating the floor at the given percentile (0..100).
func NewFloorTracker(capacity int, percentile float64) (*FloorTracker, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid history capacity: %d", capacity)
	}
	if percentile < 0 || percentile > 100 {
		return nil, fmt.Errorf("invalid percentile: %f", percentile)
	}
	return &FloorTracker{
		percentile: percentile,
		history:    make([]float64, capacity),
		scratch:    make([]float64, 0, capacity),
	}, nil
}

// Push appends a window energy, evicting the oldest when the history is at
// capacity.
func (t *FloorTracker) Push(rms float64) {
	t.history[t.next] = rms
	t.next = (t.next + 1) % len(t.history)
	if t.size < len(t.history) {
		t.size++
	}
}

// Len returns the number of energies currently held.
func (t *FloorTracker) Len() int {
	return t.size
}

// Clear resets the history. Invoked on every channel retune.
func (t *FloorTracker) Clear() {
	t.next = 0
	t.size = 0
}

// Estimate returns the percentile over the full history, or ok=false while
// the history is still warming up. The percentile is computed with linear
// interpolation between order statistics, gonum's LinInterp convention.
func (t *FloorTracker) Estimate() (floor float64, ok bool) {
	if t.size < len(t.history) {
		return 0, false
	}

	t.scratch = append(t.scratch[:0], t.history...)
	sort.Float64s(t.scratch)

	return stat.Quantile(t.percentile/100, stat.LinInterp, t.scratch, nil), true
}
