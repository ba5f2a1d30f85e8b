// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Control API
	CORSOrigins      []string // empty allows any origin
	ControlRateLimit int      // control requests per client per minute

	// Scoring service
	ScoringURL     string
	ScoringTimeout time.Duration

	// Stream settings
	StreamInterval time.Duration
	DemoMode       bool
	Autostart      bool
	Seed           uint64 // 0 seeds from the clock
	CounterStart   uint64
	AssignIDs      bool // send client-generated transaction ids
	LatencyTarget  time.Duration

	// Tracing (optional)
	OTLPEndpoint string
}

const (
	DefaultPort             = "8090"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultScoringURL       = "http://localhost:8000"
	DefaultScoringTimeoutMS = 5000
	DefaultIntervalMS       = 800
	DefaultLatencyTargetMS  = 100
	DefaultControlRateLimit = 120
)

// Interval bounds, in milliseconds.
const (
	MinIntervalMS = 200
	MaxIntervalMS = 3000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      os.Getenv("LOG_FORMAT"), // empty picks by Env
		ScoringURL:     strings.TrimRight(getEnv("SCORING_URL", DefaultScoringURL), "/"),
		ScoringTimeout: getEnvMillis("SCORING_TIMEOUT_MS", DefaultScoringTimeoutMS),
		StreamInterval: getEnvMillis("STREAM_INTERVAL_MS", DefaultIntervalMS),
		DemoMode:       getEnvBool("STREAM_DEMO_MODE", false),
		Autostart:      getEnvBool("STREAM_AUTOSTART", false),
		Seed:           getEnvUint64("STREAM_SEED", 0),
		CounterStart:   getEnvUint64("STREAM_COUNTER_START", 0),
		AssignIDs:      getEnvBool("STREAM_ASSIGN_IDS", false),
		LatencyTarget:  getEnvMillis("LATENCY_TARGET_MS", DefaultLatencyTargetMS),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS")
	cfg.ControlRateLimit = int(getEnvInt64("CONTROL_RATE_LIMIT_RPM", DefaultControlRateLimit))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ScoringURL == "" {
		return fmt.Errorf("SCORING_URL is required")
	}
	u, err := url.Parse(c.ScoringURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SCORING_URL must be an absolute http(s) URL")
	}

	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT_MS must be positive")
	}

	ms := c.StreamInterval.Milliseconds()
	if ms < MinIntervalMS || ms > MaxIntervalMS {
		return fmt.Errorf("STREAM_INTERVAL_MS must be between %d and %d", MinIntervalMS, MaxIntervalMS)
	}

	if c.LatencyTarget <= 0 {
		return fmt.Errorf("LATENCY_TARGET_MS must be positive")
	}

	if c.ControlRateLimit < 0 {
		return fmt.Errorf("CONTROL_RATE_LIMIT_RPM must not be negative")
	}

	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// JSONLogs reports whether logs should be emitted as JSON.
// An explicit LOG_FORMAT wins; otherwise production logs JSON.
func (c *Config) JSONLogs() bool {
	if c.LogFormat != "" {
		return c.LogFormat == "json"
	}
	return c.IsProduction()
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvMillis(key string, defaultMS int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultMS)) * time.Millisecond
}
