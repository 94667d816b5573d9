package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

func TestNewResource(t *testing.T) {
	t.Run("sets the service name", func(t *testing.T) {
		res, err := newResource("chainlog-test")
		require.NoError(t, err)

		found := false
		for _, attr := range res.Attributes() {
			if attr.Key == semconv.ServiceNameKey {
				assert.Equal(t, "chainlog-test", attr.Value.AsString())
				found = true
			}
		}
		assert.True(t, found, "service name attribute not found in resource")
	})

	t.Run("empty service name", func(t *testing.T) {
		res, err := newResource("")
		require.NoError(t, err)
		assert.NotNil(t, res)
	})
}

func TestLoggerProvider(t *testing.T) {
	t.Run("nil before init", func(t *testing.T) {
		assert.Nil(t, LoggerProvider())
	})
}

func TestInit(t *testing.T) {
	originalMeterProvider := otel.GetMeterProvider()
	originalTracerProvider := otel.GetTracerProvider()
	defer func() {
		otel.SetMeterProvider(originalMeterProvider)
		otel.SetTracerProvider(originalTracerProvider)
	}()

	t.Run("registers providers and shuts down", func(t *testing.T) {
		// gRPC exporters connect lazily, so Init succeeds without a collector.
		shutdown, err := Init(t.Context(), "chainlog-test")
		require.NoError(t, err)
		require.NotNil(t, shutdown)
		assert.NotNil(t, LoggerProvider())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = shutdown(ctx)

		assert.Nil(t, LoggerProvider())
	})
}
