// Package metrics provides Prometheus instrumentation for the control API
// and the realtime feed. Stream-engine metrics live in package stream.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secureflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "secureflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "secureflow",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// WebSocketEventsTotal counts realtime events by type and delivery result.
	WebSocketEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secureflow",
			Name:      "websocket_events_total",
			Help:      "Realtime events by type and result (sent, dropped).",
		},
		[]string{"type", "result"},
	)

	// ScoringUp is 1 while the last scoring service health probe succeeded.
	ScoringUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow", Name: "scoring_up",
		Help: "Whether the last scoring service health probe succeeded.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "secureflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveWebSocketClients,
		WebSocketEventsTotal,
		ScoringUp,
		GoroutineCount,
	)
}

// DefaultCollectInterval is used when StartCollector gets a non-positive interval.
const DefaultCollectInterval = 15 * time.Second

// Prober reports whether a dependency is reachable.
type Prober func(ctx context.Context) bool

// StartCollector periodically samples the goroutine count and, when probe
// is non-nil, the scoring service reachability. Call in a goroutine; exits
// when ctx is done.
func StartCollector(ctx context.Context, probe Prober, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		collect(ctx, probe)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func collect(ctx context.Context, probe Prober) {
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
	if probe == nil {
		return
	}
	if probe(ctx) {
		ScoringUp.Set(1)
	} else {
		ScoringUp.Set(0)
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
