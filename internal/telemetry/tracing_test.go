package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Not parallel: installs the global tracer provider.
func TestInitTracerProviderRecordsSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "manuals-test", SampleRatio: 1}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	_, span := otel.Tracer("resolver").Start(ctx, "resolver.Resolve")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "resolver.Resolve", spans[0].Name())
	svc, ok := spans[0].Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "manuals-test", svc.AsString())
}

func TestInitTracerProviderZeroRatioDropsSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "manuals-test"}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	_, span := tp.Tracer("assets").Start(ctx, "assets.Fetch")
	span.End()
	assert.Empty(t, rec.Ended())
}
