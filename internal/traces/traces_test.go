package traces

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test", slog.Default())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", Amount(12.5), Flagged(true))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "merchant.id", string(MerchantID("M001").Key))
	assert.Equal(t, "M001", MerchantID("M001").Value.AsString())
	assert.Equal(t, 12.5, Amount(12.5).Value.AsFloat64())
	assert.Equal(t, "JP", Country("JP").Value.AsString())
	assert.Equal(t, "high_amount", Pattern("high_amount").Value.AsString())
	assert.Equal(t, 61.5, Score(61.5).Value.AsFloat64())
	assert.True(t, Flagged(true).Value.AsBool())
}

func TestStartSpan_Recorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, parent := StartSpan(context.Background(), "stream.tick", Pattern("new_country"))
	_, child := StartSpan(ctx, "scoring.Evaluate", Country("JP"))
	child.End()
	parent.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "scoring.Evaluate", spans[0].Name())
	assert.Equal(t, "stream.tick", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Contains(t, spans[1].Attributes(), attribute.String("fraud.pattern", "new_country"))
}
