package stream

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/secureflow/internal/scoring"
)

// Evaluation outcome labels.
const (
	outcomeOK        = "ok"
	outcomeTransport = "transport_error"
	outcomeAPI       = "api_error"
	outcomeMalformed = "malformed_response"
)

var (
	ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "ticks_total",
		Help:      "Total ticks dispatched by injected fraud pattern.",
	}, []string{"pattern"})

	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "evaluations_total",
		Help:      "Total completed evaluations by outcome.",
	}, []string{"outcome"}) // "ok", "transport_error", "api_error", "malformed_response"

	flaggedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "flagged_total",
		Help:      "Total transactions flagged by the scoring service, by injected pattern.",
	}, []string{"pattern"})

	evaluationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "evaluation_latency_seconds",
		Help:      "Client-measured round trip of successful evaluations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "in_flight",
		Help:      "Evaluations dispatched but not yet completed.",
	})

	p95LatencyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "p95_latency_ms",
		Help:      "95th percentile latency over the rolling window, in milliseconds.",
	})

	historySizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "history_size",
		Help:      "Results retained in the history.",
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "running",
		Help:      "1 while the scheduler is ticking.",
	})

	intervalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "interval_seconds",
		Help:      "Configured tick interval.",
	})

	demoModeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow",
		Subsystem: "stream",
		Name:      "demo_mode",
		Help:      "1 while demo mode is enabled.",
	})
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		evaluationsTotal,
		flaggedTotal,
		evaluationLatency,
		inFlightGauge,
		p95LatencyGauge,
		historySizeGauge,
		runningGauge,
		intervalGauge,
		demoModeGauge,
	)
}

func publishState(state State, interval time.Duration, demoMode bool) {
	runningGauge.Set(boolGauge(state == StateRunning))
	intervalGauge.Set(interval.Seconds())
	demoModeGauge.Set(boolGauge(demoMode))
}

// classify maps an evaluation error to its outcome label.
func classify(err error) string {
	var apiErr *scoring.APIError
	switch {
	case errors.As(err, &apiErr):
		return outcomeAPI
	case errors.Is(err, scoring.ErrMalformedResponse):
		return outcomeMalformed
	default:
		return outcomeTransport
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
