// Package server exposes the stream engine over HTTP: control endpoints,
// result inspection, health, metrics and the realtime feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/secureflow/internal/config"
	"github.com/mbd888/secureflow/internal/health"
	"github.com/mbd888/secureflow/internal/idgen"
	"github.com/mbd888/secureflow/internal/logging"
	"github.com/mbd888/secureflow/internal/metrics"
	"github.com/mbd888/secureflow/internal/ratelimit"
	"github.com/mbd888/secureflow/internal/realtime"
	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/security"
	"github.com/mbd888/secureflow/internal/stream"
	"github.com/mbd888/secureflow/internal/synthetic"
	"github.com/mbd888/secureflow/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	evaluator    stream.Evaluator
	prober       health.ScoringProber
	newTicker    stream.TickerFunc
	scheduler    *stream.Scheduler
	realtimeHub  *realtime.Hub
	healthChecks *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration

	// runCtx bounds the stream run and background goroutines; Shutdown
	// cancels it, which also aborts in-flight evaluations.
	runCtx       context.Context
	cancelRunCtx context.CancelFunc
	stopFollow   func()

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithEvaluator replaces the scoring client used by the stream (for testing)
func WithEvaluator(e stream.Evaluator) Option {
	return func(s *Server) {
		s.evaluator = e
	}
}

// WithScoringProber replaces the scoring health probe (for testing)
func WithScoringProber(p health.ScoringProber) Option {
	return func(s *Server) {
		s.prober = p
	}
}

// WithTicker replaces the stream ticker factory (for testing)
func WithTicker(fn stream.TickerFunc) Option {
	return func(s *Server) {
		s.newTicker = fn
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	format := "text"
	if cfg.JSONLogs() {
		format = "json"
	}
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, format),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	// One client serves both scoring and its health probe unless overridden.
	if s.evaluator == nil || s.prober == nil {
		client := scoring.NewClient(cfg.ScoringURL, cfg.ScoringTimeout)
		if s.evaluator == nil {
			s.evaluator = client
		}
		if s.prober == nil {
			s.prober = client
		}
	}

	s.runCtx, s.cancelRunCtx = context.WithCancel(context.Background())
	s.scheduler = s.newScheduler()

	s.realtimeHub = realtime.NewHub(logging.Component(s.logger, "realtime"))
	s.stopFollow = s.realtimeHub.Follow(s.scheduler)

	s.healthChecks = health.NewRegistry()
	s.healthChecks.Register("scoring", health.ScoringService(s.prober))
	s.healthChecks.Register("stream", health.Stream(s.scheduler))

	if cfg.ControlRateLimit > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = cfg.ControlRateLimit
		s.rateLimiter = ratelimit.New(rl)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) newScheduler() *stream.Scheduler {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := synthetic.NewSource(seed)

	var genOpts []synthetic.GeneratorOption
	if s.cfg.AssignIDs {
		genOpts = append(genOpts, synthetic.WithTransactionIDs(idgen.Transaction))
	}

	opts := []stream.Option{
		stream.WithLogger(logging.Component(s.logger, "stream")),
		stream.WithInterval(s.cfg.StreamInterval),
		stream.WithDemoMode(s.cfg.DemoMode),
		stream.WithLatencyTarget(s.cfg.LatencyTarget),
	}
	if s.newTicker != nil {
		opts = append(opts, stream.WithTicker(s.newTicker))
	}

	s.logger.Info("stream configured",
		"seed", seed,
		"counter_start", s.cfg.CounterStart,
		"interval_ms", s.cfg.StreamInterval.Milliseconds(),
		"demo_mode", s.cfg.DemoMode,
		"assign_ids", s.cfg.AssignIDs,
	)
	return stream.NewScheduler(
		s.evaluator,
		synthetic.NewPolicy(src),
		synthetic.NewGenerator(src, s.cfg.CounterStart, genOpts...),
		opts...,
	)
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code; polling reads stay at debug.
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		case c.Request.Method == http.MethodGet:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1/stream")
	{
		v1.GET("", s.getStream)
		v1.GET("/latencies", s.getLatencies)
		v1.GET("/results", s.listResults)
		v1.GET("/results/:id", validation.TransactionIDParamMiddleware(), s.getResult)
	}

	control := v1.Group("")
	if s.rateLimiter != nil {
		control.Use(s.rateLimiter.Middleware())
	}
	{
		control.POST("/start", s.startStream)
		control.POST("/stop", s.stopStream)
		control.PUT("/interval", s.setInterval)
		control.PUT("/demo-mode", s.setDemoMode)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// probeScoring feeds the scoring_up gauge.
func (s *Server) probeScoring(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, health.DefaultTimeout)
	defer cancel()
	hs, err := s.prober.Health(ctx)
	return err == nil && hs.Status == "ok"
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"scoring_url", s.cfg.ScoringURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(s.runCtx)
	go metrics.StartCollector(s.runCtx, s.probeScoring, metrics.DefaultCollectInterval)

	if s.cfg.Autostart {
		if err := s.scheduler.Start(s.runCtx); err != nil {
			s.logger.Error("failed to autostart stream", "error", err)
		}
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.cancelRunCtx()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// No new ticks from here on.
	if err := s.scheduler.Stop(); err == nil {
		s.logger.Info("stream stopped")
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Aborts in-flight evaluations, stops the hub and the collector.
	s.cancelRunCtx()
	s.scheduler.Wait()
	s.stopFollow()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	snap := s.scheduler.Snapshot()
	s.logger.Info("server stopped",
		"ticks", snap.Ticks,
		"evaluated", snap.Evaluated,
		"failed", snap.Failed,
	)
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Scheduler returns the stream scheduler.
func (s *Server) Scheduler() *stream.Scheduler {
	return s.scheduler
}
