package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "test-service",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	_, span := tp.Tracer("test").Start(ctx, "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:        true,
		SamplingRatio:  1,
		ServiceName:    "test-service",
		ServiceVersion: "v1.2.3",
		Exporter:       exporter,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, tp.IsEnabled())

	_, span := tp.Tracer("test").Start(ctx, "checkout.create")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "checkout.create", spans[0].Name)
	attrs := spans[0].Resource.Set()
	name, _ := attrs.Value(attribute.Key("service.name"))
	version, _ := attrs.Value(attribute.Key("service.version"))
	assert.Equal(t, "test-service", name.AsString())
	assert.Equal(t, "v1.2.3", version.AsString())

	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_ZeroRatioDropsRootSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:     true,
		ServiceName: "test-service",
		Exporter:    exporter,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := tp.Tracer("test").Start(ctx, "dropped")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))
	assert.Empty(t, exporter.GetSpans())
}
