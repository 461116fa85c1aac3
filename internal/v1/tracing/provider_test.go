package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupInstallsGlobalProviderAndPropagation(t *testing.T) {
	tp, err := Setup(context.Background(), Options{
		ServiceName:   "pusher",
		Environment:   "test",
		CollectorAddr: "localhost:4317",
		Insecure:      true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	})

	assert.Same(t, tp, otel.GetTracerProvider(), "the provider must be installed globally")

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}
