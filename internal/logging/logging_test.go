package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()

	assert.True(t, New("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, New("", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, New("error", "text").Enabled(ctx, slog.LevelInfo))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	Component(logger, "stream").Warn("transaction evaluation failed", "pattern", "high_amount")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "transaction evaluation failed", entry["msg"])
	assert.Equal(t, "secureflow-streamer", entry["service"])
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "high_amount", entry["pattern"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.Info("stream started", "interval_ms", 800)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "msg=\"stream started\"")
	assert.Contains(t, out, "interval_ms=800")
	assert.False(t, strings.Contains(out, "hidden"))
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))

	ctx = WithRequestID(ctx, "req-456")
	assert.Equal(t, "req-456", RequestID(ctx), "later ID wins")
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, slog.Default(), FromContext(ctx))

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	assert.Equal(t, custom, FromContext(ctx))
}

func TestL_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-789")

	L(ctx).Info("handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-789", entry["request_id"])
}

func TestL_WithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))

	L(ctx).Info("handled")
	assert.NotContains(t, buf.String(), "request_id")
}
