// SecureFlow streamer - synthetic transaction stream against the fraud scoring service
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbd888/secureflow/internal/config"
	"github.com/mbd888/secureflow/internal/logging"
	"github.com/mbd888/secureflow/internal/server"
	"github.com/mbd888/secureflow/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.JSONLogs() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)

	logger.Info("starting secureflow streamer",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"scoring_url", cfg.ScoringURL,
		"interval_ms", cfg.StreamInterval.Milliseconds(),
		"demo_mode", cfg.DemoMode,
		"autostart", cfg.Autostart,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// run owns the tracer lifetime so its deferred flush happens before exit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(ctx)
}
