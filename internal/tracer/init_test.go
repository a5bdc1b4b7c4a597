package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"docchat-client/internal/pkg/logger"
)

func TestInitTracerDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")

	shutdown := InitTracer("docchat-test", logger.NewNopLogger())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracerEnabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "127.0.0.1:1")

	shutdown := InitTracer("docchat-test", logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing was exported, shutdown only flushes an empty batch
	_ = shutdown(ctx)
}
