package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitInstallsProviderAndPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "registry-crawler-test", Version: "test", SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })

	ctx, span := Tracer("test").Start(context.Background(), "unit")
	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))
	span.End()
}
