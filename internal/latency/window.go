// Package latency keeps a rolling window of observed round-trip latencies
// and answers nearest-rank percentile queries over it.
package latency

import (
	"math"
	"sort"
)

// DefaultCapacity is the number of most recent observations retained.
const DefaultCapacity = 100

// Window is a fixed-capacity ring of latency samples in milliseconds.
// Once full, each Record overwrites the oldest sample.
//
// Window is not safe for concurrent use; the stream scheduler serializes access.
type Window struct {
	buf   []float64
	start int // index of the oldest sample
	size  int
}

// NewWindow creates a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]float64, capacity)}
}

// Record appends one observation, evicting the oldest when full.
func (w *Window) Record(ms float64) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = ms
		w.size++
		return
	}
	w.buf[w.start] = ms
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of retained samples.
func (w *Window) Len() int {
	return w.size
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}

// Values returns the retained samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.size)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Last returns the most recent sample, if any.
func (w *Window) Last() (float64, bool) {
	if w.size == 0 {
		return 0, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Percentile returns the nearest-rank p-th percentile (0 < p <= 100):
// the value at index ceil(p/100 * n) - 1 of the sorted samples.
// An empty window yields 0.
func (w *Window) Percentile(p float64) float64 {
	if w.size == 0 {
		return 0
	}
	sorted := w.Values()
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted))/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// P95 returns the 95th percentile latency.
func (w *Window) P95() float64 {
	return w.Percentile(95)
}

// Reset discards all samples.
func (w *Window) Reset() {
	w.start, w.size = 0, 0
}
