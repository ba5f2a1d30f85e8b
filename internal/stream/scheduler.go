package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/secureflow/internal/history"
	"github.com/mbd888/secureflow/internal/latency"
	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/synthetic"
	"github.com/mbd888/secureflow/internal/traces"
)

// Scheduler owns the tick cadence and the aggregates fed by completed
// evaluations. The completion handler is the only writer of the latency
// window, the history and the last score/latency; mu serializes it because
// completions arrive on parallel goroutines.
type Scheduler struct {
	policy    *synthetic.Policy
	generator *synthetic.Generator
	evaluator Evaluator
	logger    *slog.Logger
	newTicker TickerFunc
	now       func() time.Time

	mu            sync.Mutex
	state         State
	generation    uint64 // bumped on every Start/Stop; stale loops stop dispatching
	interval      time.Duration
	demoMode      bool
	latencyTarget time.Duration
	cancelLoop    context.CancelFunc
	reset         chan struct{}

	window      *latency.Window
	history     *history.History
	lastScore   *float64
	lastLatency *float64
	ticks       uint64
	evaluated   uint64
	flagged     uint64
	failed      uint64
	lastErr     string
	inFlight    int
	updatedAt   time.Time

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	wg sync.WaitGroup // in-flight evaluations
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTicker replaces the ticker factory (for testing).
func WithTicker(fn TickerFunc) Option {
	return func(s *Scheduler) {
		s.newTicker = fn
	}
}

// WithInterval sets the initial tick interval. Out-of-range values are clamped.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = clampInterval(d)
	}
}

// WithDemoMode sets the initial demo mode.
func WithDemoMode(enabled bool) Option {
	return func(s *Scheduler) {
		s.demoMode = enabled
	}
}

// WithLatencyTarget sets the latency goal reported in snapshots.
func WithLatencyTarget(d time.Duration) Option {
	return func(s *Scheduler) {
		s.latencyTarget = d
	}
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithCapacities overrides the latency window and history sizes.
func WithCapacities(windowSize, historySize int) Option {
	return func(s *Scheduler) {
		s.window = latency.NewWindow(windowSize)
		s.history = history.New(historySize)
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(evaluator Evaluator, policy *synthetic.Policy, generator *synthetic.Generator, opts ...Option) *Scheduler {
	s := &Scheduler{
		policy:        policy,
		generator:     generator,
		evaluator:     evaluator,
		logger:        slog.Default(),
		newTicker:     NewRealTicker,
		now:           time.Now,
		state:         StateStopped,
		interval:      DefaultInterval,
		latencyTarget: DefaultLatencyTarget,
		window:        latency.NewWindow(latency.DefaultCapacity),
		history:       history.New(history.DefaultCapacity),
		listeners:     make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updatedAt = s.now()
	publishState(s.state, s.interval, s.demoMode)
	return s
}

// Start begins ticking at the configured interval.
//
// ctx bounds the whole run, in-flight evaluations included, so it must be a
// long-lived context rather than a request context. Stop does not cancel it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunning
	s.generation++
	s.cancelLoop = cancel
	s.reset = make(chan struct{}, 1)
	ticker := s.newTicker(s.interval)
	gen, reset, interval := s.generation, s.reset, s.interval
	snap := s.snapshotLocked()
	s.mu.Unlock()

	go s.loop(loopCtx, ctx, ticker, reset, gen)

	s.logger.Info("stream started", "interval_ms", interval.Milliseconds(), "demo_mode", snap.DemoMode)
	publishState(snap.State, interval, snap.DemoMode)
	s.notify(Update{Kind: EventState, Snapshot: snap})
	return nil
}

// Stop cancels further ticking. Evaluations already in flight still complete
// and are recorded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.stopLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("stream stopped", "in_flight", snap.InFlight)
	publishState(snap.State, time.Duration(snap.IntervalMS)*time.Millisecond, snap.DemoMode)
	s.notify(Update{Kind: EventState, Snapshot: snap})
	return nil
}

func (s *Scheduler) stopLocked() {
	s.state = StateStopped
	s.generation++
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
	s.reset = nil
	s.updatedAt = s.now()
}

// SetInterval changes the tick period. While running, the ticker is re-armed
// so the new period applies from the next cycle.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if err := ValidateInterval(d); err != nil {
		return fmt.Errorf("%w: %v not in [%v, %v]", err, d, MinInterval, MaxInterval)
	}

	s.mu.Lock()
	s.interval = d
	s.updatedAt = s.now()
	if s.reset != nil {
		select {
		case s.reset <- struct{}{}:
		default: // a re-arm is already pending and will read the new interval
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("stream interval changed", "interval_ms", d.Milliseconds())
	publishState(snap.State, d, snap.DemoMode)
	s.notify(Update{Kind: EventState, Snapshot: snap})
	return nil
}

// SetDemoMode toggles demo mode; the next tick's fraud decision uses it.
func (s *Scheduler) SetDemoMode(enabled bool) {
	s.mu.Lock()
	s.demoMode = enabled
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("stream demo mode changed", "demo_mode", enabled)
	publishState(snap.State, time.Duration(snap.IntervalMS)*time.Millisecond, enabled)
	s.notify(Update{Kind: EventState, Snapshot: snap})
}

// Subscribe registers a listener and returns a function removing it.
func (s *Scheduler) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Snapshot returns the current published state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Results returns up to limit results, newest first. limit <= 0 means all.
func (s *Scheduler) Results(limit int) []*scoring.TransactionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.List(limit)
}

// FlaggedResults returns up to limit flagged results, newest first.
func (s *Scheduler) FlaggedResults(limit int) []*scoring.TransactionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Flagged(limit)
}

// Result looks up one retained result by transaction id.
func (s *Scheduler) Result(id string) (*scoring.TransactionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Find(id)
}

// Latencies returns the rolling latency window, oldest first.
func (s *Scheduler) Latencies() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Values()
}

// Fire runs one tick synchronously, regardless of state, and returns its outcome.
func (s *Scheduler) Fire(ctx context.Context) (*scoring.TransactionResult, error) {
	payload, pattern, _ := s.prepare(0, true)
	s.wg.Add(1)
	return s.evaluate(ctx, payload, pattern)
}

// Wait blocks until every evaluation dispatched so far has completed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// loop fires ticks until loopCtx is cancelled. Evaluations run under runCtx,
// which Stop leaves alone.
func (s *Scheduler) loop(loopCtx, runCtx context.Context, ticker Ticker, reset <-chan struct{}, gen uint64) {
	defer ticker.Stop()
	defer s.loopExited(gen)

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-reset:
			s.mu.Lock()
			d := s.interval
			s.mu.Unlock()
			ticker.Reset(d)
		case <-ticker.C():
			s.safeTick(runCtx, gen)
		}
	}
}

// loopExited marks the scheduler stopped when its run context ends without Stop.
func (s *Scheduler) loopExited(gen uint64) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("stream stopped by context", "in_flight", snap.InFlight)
	publishState(snap.State, time.Duration(snap.IntervalMS)*time.Millisecond, snap.DemoMode)
	s.notify(Update{Kind: EventState, Snapshot: snap})
}

func (s *Scheduler) safeTick(ctx context.Context, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in stream tick", "panic", fmt.Sprint(r))
		}
	}()
	s.tick(ctx, gen)
}

// tick dispatches one evaluation unless the generation that armed it has ended.
func (s *Scheduler) tick(ctx context.Context, gen uint64) {
	payload, pattern, ok := s.prepare(gen, false)
	if !ok {
		return
	}

	s.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in stream evaluation", "panic", fmt.Sprint(r))
			}
		}()
		_, _ = s.evaluate(ctx, payload, pattern)
	}()
}

// prepare draws the fraud decision and builds the payload for one tick.
// Unless force is set, it refuses once the generation that armed the tick
// has ended.
func (s *Scheduler) prepare(gen uint64, force bool) (scoring.TransactionPayload, synthetic.Pattern, bool) {
	s.mu.Lock()
	if !force && (s.state != StateRunning || s.generation != gen) {
		s.mu.Unlock()
		return scoring.TransactionPayload{}, synthetic.PatternNone, false
	}
	demo := s.demoMode
	s.ticks++
	s.inFlight++
	s.mu.Unlock()

	pattern := s.policy.Decide(demo)
	payload := s.generator.Next(pattern)

	ticksTotal.WithLabelValues(pattern.String()).Inc()
	inFlightGauge.Inc()
	return payload, pattern, true
}

// evaluate scores payload and applies the outcome. The caller must have
// called wg.Add(1).
func (s *Scheduler) evaluate(ctx context.Context, payload scoring.TransactionPayload, pattern synthetic.Pattern) (*scoring.TransactionResult, error) {
	defer s.wg.Done()

	ctx, span := traces.StartSpan(ctx, "stream.tick", traces.Pattern(pattern.String()))
	defer span.End()

	res, err := s.evaluator.Evaluate(ctx, payload)
	if err == nil && res == nil {
		err = errors.New("stream: evaluator returned no result")
	}
	if err != nil {
		span.RecordError(err)
		s.fail(err, pattern)
		return nil, err
	}
	s.record(res, pattern)
	return res, nil
}

// record applies a successful evaluation to every aggregate at once.
func (s *Scheduler) record(res *scoring.TransactionResult, pattern synthetic.Pattern) {
	score := res.Response.Score
	lat := res.Response.LatencyMS

	s.mu.Lock()
	s.inFlight--
	s.window.Record(lat)
	s.history.Insert(res)
	s.lastScore = &score
	s.lastLatency = &lat
	s.evaluated++
	if res.Response.Flagged {
		s.flagged++
	}
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	inFlightGauge.Dec()
	evaluationsTotal.WithLabelValues(outcomeOK).Inc()
	if res.Response.Flagged {
		flaggedTotal.WithLabelValues(pattern.String()).Inc()
	}
	evaluationLatency.Observe(lat / 1000)
	p95LatencyGauge.Set(snap.P95LatencyMS)
	historySizeGauge.Set(float64(snap.HistorySize))

	s.logger.Debug("transaction evaluated",
		"transaction_id", res.ID(),
		"pattern", pattern.String(),
		"score", score,
		"flagged", res.Response.Flagged,
		"latency_ms", lat,
	)
	s.notify(Update{Kind: EventResult, Snapshot: snap, Result: res})
}

// fail counts a failed evaluation. The window, history and last
// score/latency are left untouched; the next tick supersedes this one.
func (s *Scheduler) fail(err error, pattern synthetic.Pattern) {
	s.mu.Lock()
	s.inFlight--
	s.failed++
	s.lastErr = err.Error()
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	inFlightGauge.Dec()
	evaluationsTotal.WithLabelValues(classify(err)).Inc()

	s.logger.Warn("transaction evaluation failed",
		"pattern", pattern.String(),
		"error", err,
	)
	s.notify(Update{Kind: EventFailure, Snapshot: snap, Err: err})
}

func (s *Scheduler) snapshotLocked() Snapshot {
	target := float64(s.latencyTarget) / float64(time.Millisecond)
	snap := Snapshot{
		State:           s.state,
		IntervalMS:      s.interval.Milliseconds(),
		DemoMode:        s.demoMode,
		P95LatencyMS:    s.window.P95(),
		LatencyTargetMS: target,
		InFlight:        s.inFlight,
		Ticks:           s.ticks,
		Evaluated:       s.evaluated,
		Flagged:         s.flagged,
		Failed:          s.failed,
		LastError:       s.lastErr,
		HistorySize:     s.history.Len(),
		WindowSize:      s.window.Len(),
		UpdatedAt:       s.updatedAt,
	}
	if s.lastScore != nil {
		v := *s.lastScore
		snap.LastScore = &v
	}
	if s.lastLatency != nil {
		v := *s.lastLatency
		snap.LastLatencyMS = &v
		snap.LastLatencyOK = v <= target
	}
	if snap.WindowSize > 0 {
		snap.P95LatencyOK = snap.P95LatencyMS <= target
	}
	return snap
}

func (s *Scheduler) notify(u Update) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(u)
	}
}

func clampInterval(d time.Duration) time.Duration {
	switch {
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}
