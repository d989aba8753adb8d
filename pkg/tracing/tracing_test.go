package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestStartSpan_WithoutTracerIsNoop(t *testing.T) {
	SetTracer(nil)
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.Equal(t, "", GetTraceID(ctx))
	assert.Nil(t, TraceHeaders(ctx))
}

func TestTraceHeaders_RoundTrip(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	SetTracer(provider.Tracer("test"))
	defer SetTracer(nil)

	ctx, span := StartSpan(context.Background(), "producer")
	defer span.End()

	headers := TraceHeaders(ctx)
	require.Contains(t, headers, "traceparent")

	remote := ExtractHeaders(context.Background(), headers)
	_, child := StartSpan(remote, "consumer")
	defer child.End()

	assert.Equal(t, GetTraceID(ctx), child.SpanContext().TraceID().String())
}

func TestFail_ReturnsSameError(t *testing.T) {
	_, span := StartSpan(context.Background(), "x")
	err := errors.New("boom")
	assert.Same(t, err, Fail(span, err, "boom"))
	assert.NoError(t, Fail(span, nil, "ok"))
}
