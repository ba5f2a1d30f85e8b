package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/synthetic"
)

// manualTicker fires only when the test calls fire.
type manualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	resets  []time.Duration
	stopped bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Reset(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, d)
}

func (m *manualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *manualTicker) Resets() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.resets...)
}

func (m *manualTicker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// fire delivers one tick, failing the test if the loop does not take it.
func (m *manualTicker) fire(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick not consumed")
	}
}

// tickerFactory records every ticker the scheduler creates.
type tickerFactory struct {
	mu      sync.Mutex
	created []*manualTicker
	periods []time.Duration
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := newManualTicker()
	f.created = append(f.created, tk)
	f.periods = append(f.periods, d)
	return tk
}

func (f *tickerFactory) Last() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

// pendingCall is one evaluation waiting for the test to answer it.
type pendingCall struct {
	payload scoring.TransactionPayload
	reply   chan callOutcome
}

type callOutcome struct {
	res *scoring.TransactionResult
	err error
}

func (c *pendingCall) succeed(res *scoring.TransactionResult) {
	res.Payload = c.payload
	c.reply <- callOutcome{res: res}
}

func (c *pendingCall) fail(err error) {
	c.reply <- callOutcome{err: err}
}

// gatedEvaluator hands each call to the test and blocks until answered.
type gatedEvaluator struct {
	calls chan *pendingCall
}

func newGatedEvaluator() *gatedEvaluator {
	return &gatedEvaluator{calls: make(chan *pendingCall, 32)}
}

func (g *gatedEvaluator) Evaluate(ctx context.Context, payload scoring.TransactionPayload) (*scoring.TransactionResult, error) {
	c := &pendingCall{payload: payload, reply: make(chan callOutcome, 1)}
	g.calls <- c
	select {
	case o := <-c.reply:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedEvaluator) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no evaluation dispatched")
		return nil
	}
}

type evaluatorFunc func(ctx context.Context, payload scoring.TransactionPayload) (*scoring.TransactionResult, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, payload scoring.TransactionPayload) (*scoring.TransactionResult, error) {
	return f(ctx, payload)
}

// constSource always draws the same values.
type constSource struct{ f float64 }

func (c constSource) Float64() float64 { return c.f }
func (c constSource) IntN(int) int     { return 0 }

func result(id string, score float64, flagged bool, latencyMS float64) *scoring.TransactionResult {
	return &scoring.TransactionResult{
		Response: scoring.EvaluateResponse{
			TransactionID: id,
			Score:         score,
			Flagged:       flagged,
			LatencyMS:     latencyMS,
			Threshold:     0.7,
		},
		CompletedAt: time.Now(),
	}
}

func newTestScheduler(t *testing.T, ev Evaluator, opts ...Option) (*Scheduler, *tickerFactory) {
	t.Helper()
	factory := &tickerFactory{}
	src := synthetic.NewSource(7)
	base := []Option{WithTicker(factory.New)}
	s := NewScheduler(ev, synthetic.NewPolicy(src), synthetic.NewGenerator(src, 0), append(base, opts...)...)
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s, factory
}

func TestScheduler_StartStopTransitions(t *testing.T) {
	s, factory := newTestScheduler(t, newGatedEvaluator())
	assert.Equal(t, StateStopped, s.Snapshot().State)

	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Snapshot().Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, []time.Duration{DefaultInterval}, factory.periods)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.Snapshot().State)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	tk := factory.Last()
	assert.Eventually(t, tk.Stopped, time.Second, 5*time.Millisecond)

	// Restart arms a fresh ticker.
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, factory.created, 2)
}

func TestScheduler_SuccessfulTickUpdatesEverything(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	require.NoError(t, s.Start(context.Background()))

	factory.Last().fire(t)
	call := ev.next(t)
	assert.Equal(t, 1, s.Snapshot().InFlight)

	call.succeed(result("tx_1", 0.82, true, 42))

	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 1 }, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.NotNil(t, snap.LastScore)
	require.NotNil(t, snap.LastLatencyMS)
	assert.Equal(t, 0.82, *snap.LastScore)
	assert.Equal(t, 42.0, *snap.LastLatencyMS)
	assert.Equal(t, 42.0, snap.P95LatencyMS)
	assert.Equal(t, uint64(1), snap.Ticks)
	assert.Equal(t, uint64(1), snap.Flagged)
	assert.Equal(t, 0, snap.InFlight)
	assert.Equal(t, 1, snap.HistorySize)
	assert.Equal(t, 1, snap.WindowSize)
	assert.True(t, snap.LastLatencyOK)
	assert.True(t, snap.P95LatencyOK)

	got, ok := s.Result("tx_1")
	require.True(t, ok)
	assert.Equal(t, call.payload, got.Payload)
	assert.Equal(t, []float64{42}, s.Latencies())
}

func TestScheduler_FailedTickMutatesNothing(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	require.NoError(t, s.Start(context.Background()))
	tk := factory.Last()

	tk.fire(t)
	ev.next(t).succeed(result("tx_ok", 0.1, false, 30))
	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 1 }, time.Second, 5*time.Millisecond)
	before := s.Snapshot()

	tk.fire(t)
	ev.next(t).fail(&scoring.APIError{StatusCode: 422, Message: "amount: must be positive"})
	require.Eventually(t, func() bool { return s.Snapshot().Failed == 1 }, time.Second, 5*time.Millisecond)

	after := s.Snapshot()
	assert.Equal(t, *before.LastScore, *after.LastScore)
	assert.Equal(t, *before.LastLatencyMS, *after.LastLatencyMS)
	assert.Equal(t, before.HistorySize, after.HistorySize)
	assert.Equal(t, before.WindowSize, after.WindowSize)
	assert.Equal(t, []float64{30}, s.Latencies())
	assert.Contains(t, after.LastError, "amount: must be positive")
	assert.True(t, after.Running(), "a failure never stops the scheduler")

	// The next tick still dispatches and records.
	tk.fire(t)
	ev.next(t).succeed(result("tx_next", 0.2, false, 50))
	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Snapshot().HistorySize)
}

func TestScheduler_NilResultCountsAsFailure(t *testing.T) {
	ev := evaluatorFunc(func(context.Context, scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		return nil, nil
	})
	s, _ := newTestScheduler(t, ev)

	_, err := s.Fire(context.Background())
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, 0, snap.HistorySize)
	assert.Nil(t, snap.LastScore)
}

func TestScheduler_CompletionOrderNotDispatchOrder(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	require.NoError(t, s.Start(context.Background()))
	tk := factory.Last()

	tk.fire(t)
	first := ev.next(t)
	tk.fire(t)
	second := ev.next(t)
	assert.Equal(t, 2, s.Snapshot().InFlight)

	second.succeed(result("tx_second", 0.9, true, 80))
	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 1 }, time.Second, 5*time.Millisecond)
	first.succeed(result("tx_first", 0.1, false, 20))
	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 2 }, time.Second, 5*time.Millisecond)

	results := s.Results(0)
	require.Len(t, results, 2)
	assert.Equal(t, "tx_first", results[0].ID(), "last completion is newest")
	assert.Equal(t, "tx_second", results[1].ID())
	assert.Equal(t, 0.1, *s.Snapshot().LastScore)
	assert.Equal(t, []float64{80, 20}, s.Latencies())
}

func TestScheduler_NoTicksAfterStop(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	require.NoError(t, s.Start(context.Background()))
	tk := factory.Last()

	require.NoError(t, s.Stop())

	select {
	case tk.ch <- time.Now():
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, uint64(0), s.Snapshot().Ticks)
	assert.Empty(t, ev.calls)
}

func TestScheduler_LateCompletionAfterStopIsApplied(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	require.NoError(t, s.Start(context.Background()))

	factory.Last().fire(t)
	call := ev.next(t)

	require.NoError(t, s.Stop())
	call.succeed(result("tx_late", 0.75, true, 64))

	require.Eventually(t, func() bool { return s.Snapshot().Evaluated == 1 }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, 0.75, *snap.LastScore)
	_, ok := s.Result("tx_late")
	assert.True(t, ok)
}

func TestScheduler_ContextCancelStopsAndAbortsInFlight(t *testing.T) {
	ev := newGatedEvaluator()
	s, factory := newTestScheduler(t, ev)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	factory.Last().fire(t)
	ev.next(t)

	cancel()
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StateStopped && snap.Failed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Snapshot().HistorySize)
	s.Wait()
}

func TestScheduler_SetInterval(t *testing.T) {
	s, factory := newTestScheduler(t, newGatedEvaluator())

	for _, d := range []time.Duration{199 * time.Millisecond, 3001 * time.Millisecond, 0} {
		err := s.SetInterval(d)
		assert.ErrorIs(t, err, ErrIntervalOutOfRange, "interval %v", d)
	}
	assert.Equal(t, DefaultInterval.Milliseconds(), s.Snapshot().IntervalMS)

	// Accepted while stopped, applied at the next start.
	require.NoError(t, s.SetInterval(MinInterval))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, MinInterval, factory.periods[0])

	// While running, the ticker is re-armed with the new period.
	require.NoError(t, s.SetInterval(MaxInterval))
	tk := factory.Last()
	require.Eventually(t, func() bool { return len(tk.Resets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, MaxInterval, tk.Resets()[0])
	assert.Equal(t, int64(3000), s.Snapshot().IntervalMS)
}

func TestScheduler_WithIntervalClamps(t *testing.T) {
	s, _ := newTestScheduler(t, newGatedEvaluator(), WithInterval(10*time.Millisecond))
	assert.Equal(t, MinInterval.Milliseconds(), s.Snapshot().IntervalMS)

	s, _ = newTestScheduler(t, newGatedEvaluator(), WithInterval(time.Minute))
	assert.Equal(t, MaxInterval.Milliseconds(), s.Snapshot().IntervalMS)
}

func TestScheduler_DemoModeReadEveryTick(t *testing.T) {
	var payloads []scoring.TransactionPayload
	var mu sync.Mutex
	ev := evaluatorFunc(func(_ context.Context, p scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		return result("tx", 0.5, false, 10), nil
	})

	// A draw of 0.3 injects high_amount in demo mode only.
	src := constSource{f: 0.3}
	s := NewScheduler(ev, synthetic.NewPolicy(src), synthetic.NewGenerator(src, 0))

	_, err := s.Fire(context.Background())
	require.NoError(t, err)
	s.SetDemoMode(true)
	_, err = s.Fire(context.Background())
	require.NoError(t, err)
	s.SetDemoMode(false)
	_, err = s.Fire(context.Background())
	require.NoError(t, err)

	require.Len(t, payloads, 3)
	assert.Less(t, payloads[0].Amount, 160.0)
	assert.GreaterOrEqual(t, payloads[1].Amount, 1200.0)
	assert.Equal(t, synthetic.ForeignCountry, payloads[1].Country)
	assert.Less(t, payloads[2].Amount, 160.0)
	assert.False(t, s.Snapshot().DemoMode)
}

func TestScheduler_Subscribe(t *testing.T) {
	ev := evaluatorFunc(func(context.Context, scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		return result("tx_sub", 0.4, false, 12), nil
	})
	s, _ := newTestScheduler(t, ev)

	var mu sync.Mutex
	var kinds []EventKind
	unsubscribe := s.Subscribe(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, u.Kind)
		if u.Kind == EventResult {
			assert.Equal(t, "tx_sub", u.Result.ID())
			assert.Equal(t, uint64(1), u.Snapshot.Evaluated)
		}
	})

	require.NoError(t, s.Start(context.Background()))
	_, err := s.Fire(context.Background())
	require.NoError(t, err)
	s.SetDemoMode(true)
	require.NoError(t, s.Stop())

	unsubscribe()
	s.SetDemoMode(false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventState, EventResult, EventState, EventState}, kinds)
}

func TestScheduler_FailureNotifiesWithError(t *testing.T) {
	boom := errors.New("connection refused")
	ev := evaluatorFunc(func(context.Context, scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		return nil, boom
	})
	s, _ := newTestScheduler(t, ev)

	var got Update
	s.Subscribe(func(u Update) { got = u })

	_, err := s.Fire(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, EventFailure, got.Kind)
	assert.ErrorIs(t, got.Err, boom)
	assert.Equal(t, "connection refused", got.Snapshot.LastError)
}

func TestScheduler_LatencyTargetFlags(t *testing.T) {
	lat := 150.0
	ev := evaluatorFunc(func(context.Context, scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		return result("tx", 0.1, false, lat), nil
	})
	s, _ := newTestScheduler(t, ev, WithLatencyTarget(100*time.Millisecond))

	snap := s.Snapshot()
	assert.Equal(t, 100.0, snap.LatencyTargetMS)
	assert.False(t, snap.P95LatencyOK, "no readings yet")

	_, err := s.Fire(context.Background())
	require.NoError(t, err)
	snap = s.Snapshot()
	assert.False(t, snap.LastLatencyOK)
	assert.False(t, snap.P95LatencyOK)

	lat = 60
	_, err = s.Fire(context.Background())
	require.NoError(t, err)
	snap = s.Snapshot()
	assert.True(t, snap.LastLatencyOK)
	assert.False(t, snap.P95LatencyOK, "p95 of {150, 60} is 150")
}

func TestScheduler_CapacitiesBoundAggregates(t *testing.T) {
	n := 0
	ev := evaluatorFunc(func(context.Context, scoring.TransactionPayload) (*scoring.TransactionResult, error) {
		n++
		return result("tx_"+string(rune('a'+n)), 0.1, n%2 == 0, float64(n)), nil
	})
	s, _ := newTestScheduler(t, ev, WithCapacities(3, 4))

	for i := 0; i < 10; i++ {
		_, err := s.Fire(context.Background())
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.WindowSize)
	assert.Equal(t, 4, snap.HistorySize)
	assert.Equal(t, []float64{8, 9, 10}, s.Latencies())
	assert.Len(t, s.Results(2), 2)
	assert.Len(t, s.FlaggedResults(0), 2)
}
