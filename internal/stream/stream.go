// Package stream drives the synthetic transaction feed.
//
// Flow per tick:
//  1. Policy decides whether to inject a fraud pattern
//  2. Generator builds the payload
//  3. Evaluator scores it on its own goroutine (no backpressure)
//  4. On success only: latency window, history and last score/latency are updated
//     and listeners are notified
//
// Stop prevents further ticks but does not cancel evaluations already in
// flight; their completions are still applied.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/secureflow/internal/scoring"
)

var (
	ErrAlreadyRunning     = errors.New("stream: already running")
	ErrNotRunning         = errors.New("stream: not running")
	ErrIntervalOutOfRange = errors.New("stream: interval out of range")
)

// Interval bounds.
const (
	MinInterval     = 200 * time.Millisecond
	MaxInterval     = 3000 * time.Millisecond
	DefaultInterval = 800 * time.Millisecond
)

// DefaultLatencyTarget is the round-trip goal shown next to latency readings.
const DefaultLatencyTarget = 100 * time.Millisecond

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Evaluator scores one payload.
type Evaluator interface {
	Evaluate(ctx context.Context, payload scoring.TransactionPayload) (*scoring.TransactionResult, error)
}

// ValidateInterval checks d against [MinInterval, MaxInterval].
func ValidateInterval(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return ErrIntervalOutOfRange
	}
	return nil
}

// Snapshot is a point-in-time copy of the published stream state.
type Snapshot struct {
	State           State     `json:"state"`
	IntervalMS      int64     `json:"interval_ms"`
	DemoMode        bool      `json:"demo_mode"`
	LastScore       *float64  `json:"last_score"`
	LastLatencyMS   *float64  `json:"last_latency_ms"`
	P95LatencyMS    float64   `json:"p95_latency_ms"`
	LatencyTargetMS float64   `json:"latency_target_ms"`
	LastLatencyOK   bool      `json:"last_latency_ok"`
	P95LatencyOK    bool      `json:"p95_latency_ok"`
	InFlight        int       `json:"in_flight"`
	Ticks           uint64    `json:"ticks"`
	Evaluated       uint64    `json:"evaluated"`
	Flagged         uint64    `json:"flagged"`
	Failed          uint64    `json:"failed"`
	LastError       string    `json:"last_error,omitempty"`
	HistorySize     int       `json:"history_size"`
	WindowSize      int       `json:"window_size"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Running reports whether the snapshot was taken while ticking.
func (s Snapshot) Running() bool {
	return s.State == StateRunning
}

// EventKind classifies an Update.
type EventKind string

const (
	EventState   EventKind = "state"   // start, stop, interval or demo mode change
	EventResult  EventKind = "result"  // an evaluation completed and was recorded
	EventFailure EventKind = "failure" // an evaluation failed; nothing was recorded
)

// Update is delivered to listeners after every state change.
type Update struct {
	Kind     EventKind
	Snapshot Snapshot
	Result   *scoring.TransactionResult // EventResult only
	Err      error                      // EventFailure only
}

// Listener receives updates. It runs on the goroutine that caused the change
// and must not block.
type Listener func(Update)

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }
func (r realTicker) Stop()                 { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
