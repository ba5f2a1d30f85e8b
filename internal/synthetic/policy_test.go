package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fixedSource replays scripted draws, cycling when exhausted.
type fixedSource struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (s *fixedSource) Float64() float64 {
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *fixedSource) IntN(n int) int {
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[s.ii%len(s.ints)] % n
	s.ii++
	return v
}

func TestChoosePattern(t *testing.T) {
	tests := []struct {
		demo bool
		r    float64
		want Pattern
	}{
		{true, 0.0, PatternHighAmount},
		{true, 0.49, PatternHighAmount},
		{true, 0.5, PatternNewCountry},
		{true, 0.55, PatternNewCountry},
		{true, 0.6, PatternNone},
		{true, 0.99, PatternNone},
		{false, 0.0, PatternHighAmount},
		{false, 0.039, PatternHighAmount},
		{false, 0.04, PatternNewCountry},
		{false, 0.05, PatternNewCountry},
		{false, 0.08, PatternNone},
		{false, 0.5, PatternNone},
	}

	for _, tt := range tests {
		if got := ChoosePattern(tt.demo, tt.r); got != tt.want {
			t.Errorf("ChoosePattern(%v, %v) = %q, want %q", tt.demo, tt.r, got, tt.want)
		}
	}
}

func TestPolicy_DrawsEveryCall(t *testing.T) {
	src := &fixedSource{floats: []float64{0.0, 0.99, 0.55}}
	p := NewPolicy(src)

	assert.Equal(t, PatternHighAmount, p.Decide(true))
	assert.Equal(t, PatternNone, p.Decide(true), "decision is not sticky")
	assert.Equal(t, PatternNewCountry, p.Decide(true))
	assert.Equal(t, 3, src.fi)
}

func TestPolicy_DemoModeRate(t *testing.T) {
	p := NewPolicy(NewSource(7))

	const n = 10000
	demoHits, normalHits := 0, 0
	for i := 0; i < n; i++ {
		if p.Decide(true) != PatternNone {
			demoHits++
		}
		if p.Decide(false) != PatternNone {
			normalHits++
		}
	}

	assert.InDelta(t, 0.6, float64(demoHits)/n, 0.03)
	assert.InDelta(t, 0.08, float64(normalHits)/n, 0.015)
}

func TestPatternString(t *testing.T) {
	assert.Equal(t, "none", PatternNone.String())
	assert.Equal(t, "high_amount", PatternHighAmount.String())
	assert.Equal(t, "new_country", PatternNewCountry.String())
}

func TestNewSource_Deterministic(t *testing.T) {
	a, b := NewSource(42), NewSource(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.IntN(10), b.IntN(10))
	}
}
