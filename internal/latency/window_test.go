package latency

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_EmptyP95(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	assert.Equal(t, 0.0, w.P95())
	_, ok := w.Last()
	assert.False(t, ok)
}

func TestWindow_P95_TenValues(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	for i := 1; i <= 10; i++ {
		w.Record(float64(i * 10))
	}
	// ceil(0.95*10) - 1 = 9: the largest value
	assert.Equal(t, 100.0, w.P95())
}

func TestWindow_P95_SingleValue(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	w.Record(42)
	assert.Equal(t, 42.0, w.P95())
}

func TestWindow_P95_Unsorted(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	for _, v := range []float64{90, 10, 50, 30, 70, 20, 100, 60, 40, 80} {
		w.Record(v)
	}
	assert.Equal(t, 100.0, w.P95())
	assert.Equal(t, 50.0, w.Percentile(50))
	assert.Equal(t, 10.0, w.Percentile(1))
}

func TestWindow_P95_HundredValues(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	for i := 100; i >= 1; i-- {
		w.Record(float64(i))
	}
	assert.Equal(t, 95.0, w.P95())
}

func TestWindow_Eviction(t *testing.T) {
	w := NewWindow(DefaultCapacity)
	for i := 0; i < 150; i++ {
		w.Record(float64(i))
	}

	require.Equal(t, 100, w.Len())
	values := w.Values()
	for i, v := range values {
		assert.Equal(t, float64(50+i), v, "oldest-first order among survivors")
	}
	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 149.0, last)
}

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 23; i++ {
		w.Record(float64(i))
		assert.LessOrEqual(t, w.Len(), 5)
	}
	assert.Equal(t, []float64{18, 19, 20, 21, 22}, w.Values())
}

func TestWindow_P95Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 200; round++ {
		w := NewWindow(DefaultCapacity)
		n := 1 + rng.IntN(180)
		for i := 0; i < n; i++ {
			w.Record(float64(rng.IntN(500)) + rng.Float64())
		}

		got := w.P95()
		sorted := w.Values()
		sort.Float64s(sorted)

		assert.Contains(t, sorted, got, "p95 must be an observed value")
		rank := (95*len(sorted) + 99) / 100 // ceil(0.95n)
		assert.GreaterOrEqual(t, got, sorted[rank-1])
	}
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(3)
	w.Record(1)
	w.Record(2)
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0.0, w.P95())
	assert.Equal(t, 3, w.Cap())
}

func TestNewWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewWindow(0).Cap())
}
