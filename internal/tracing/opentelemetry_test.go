package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDefaultTracingConfig(t *testing.T) {
	config := DefaultTracingConfig()

	assert.Equal(t, "chatwire", config.ServiceName)
	assert.Equal(t, "dev", config.ServiceVersion)
	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "http://localhost:4318/v1/traces", config.OTLPEndpoint)
	assert.Equal(t, 0.1, config.SampleRate)
	assert.False(t, config.Enabled)
	assert.True(t, config.UseStdout)
}

func TestInitializeDisabledIsNoop(t *testing.T) {
	tm := NewTracingManager(TracingConfig{Enabled: false}, quietLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.tracerProvider)

	// Shutdown without Initialize must be safe.
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestInitializeWithStdoutExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.UseStdout = true
	cfg.SampleRate = 1.0

	tm := NewTracingManager(cfg, quietLogger())
	require.NoError(t, tm.Initialize(context.Background()))
	require.NotNil(t, tm.tracerProvider)

	ctx, span := StartSpan(context.Background(), "queue.consume",
		attribute.String("messaging.queue", "chat-messages"),
	)
	assert.True(t, span.IsRecording())
	assert.True(t, span.SpanContext().TraceID().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetOtelTraceID(ctx))
	assert.Equal(t, span.SpanContext().SpanID().String(), GetOtelSpanID(ctx))

	AddSpanAttributes(ctx, attribute.Int("delivery.attempt", 1))
	SetSpanStatus(ctx, codes.Ok, "")
	RecordError(ctx, errors.New("nack failed"))
	span.End()

	info := GetRequestInfo(WithRequestID(ctx, "req_1"))
	assert.Equal(t, span.SpanContext().TraceID().String(), info.TraceID)

	// Shutdown is idempotent.
	require.NoError(t, tm.Shutdown(context.Background()))
	assert.Nil(t, tm.tracerProvider)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestSpanHelpersWithoutSpanAreNoops(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.String("k", "v"))
		SetSpanStatus(ctx, codes.Error, "boom")
		RecordError(ctx, errors.New("boom"))
	})
	assert.Equal(t, "00000000000000000000000000000000", GetOtelTraceID(ctx))
	assert.Equal(t, "0000000000000000", GetOtelSpanID(ctx))
}
