// Package synthetic generates payment-like transactions for the stream,
// optionally shaped to look fraudulent so the scoring service flags them.
package synthetic

import (
	"math/rand/v2"
	"sync"
)

// Pattern is a synthetic anomaly profile injected into a transaction.
type Pattern string

const (
	PatternNone       Pattern = ""
	PatternHighAmount Pattern = "high_amount"
	PatternNewCountry Pattern = "new_country"
)

// String returns the pattern name, "none" for PatternNone.
func (p Pattern) String() string {
	if p == PatternNone {
		return "none"
	}
	return string(p)
}

// Injection thresholds on a uniform draw in [0,1).
// Demo mode pushes roughly 60% of transactions toward a flag.
const (
	demoHighAmountBelow   = 0.5
	demoNewCountryBelow   = 0.6
	normalHighAmountBelow = 0.04
	normalNewCountryBelow = 0.08
)

// Source is a uniform pseudorandom source.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// lockedSource makes a *rand.Rand safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a goroutine-safe PCG source. The same seed always
// yields the same sequence.
func NewSource(seed uint64) Source {
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// ChoosePattern maps a draw r in [0,1) to a fraud pattern.
func ChoosePattern(demoMode bool, r float64) Pattern {
	highBelow, newBelow := normalHighAmountBelow, normalNewCountryBelow
	if demoMode {
		highBelow, newBelow = demoHighAmountBelow, demoNewCountryBelow
	}
	switch {
	case r < highBelow:
		return PatternHighAmount
	case r < newBelow:
		return PatternNewCountry
	default:
		return PatternNone
	}
}

// Policy decides per tick whether to inject a fraud pattern.
// Every call draws afresh; nothing carries over between ticks.
type Policy struct {
	src Source
}

// NewPolicy creates a policy drawing from src.
func NewPolicy(src Source) *Policy {
	return &Policy{src: src}
}

// Decide draws once and returns the pattern for this tick.
func (p *Policy) Decide(demoMode bool) Pattern {
	return ChoosePattern(demoMode, p.src.Float64())
}
