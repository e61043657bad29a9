package observability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "json info", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "console debug", cfg: LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "empty level defaults to info", cfg: LogConfig{}},
		{name: "file output", cfg: LogConfig{Output: filepath.Join(t.TempDir(), "gateway.log")}},
		{name: "invalid level", cfg: LogConfig{Level: "loud"}, wantErr: true},
		{name: "unopenable output", cfg: LogConfig{Output: filepath.Join(t.TempDir(), "missing", "gateway.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = contextWithTrace(ctx, "trace-1", "")

	logger.WithContext(ctx).Info("dispatching")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.NotContains(t, fields, "span_id")
}

func TestLogger_WithContext_NoFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	logger.WithContext(context.Background()).Warn("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))

	ctx := ContextWithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
}

func TestContextFieldsAccumulate(t *testing.T) {
	ctx := contextWithTrace(context.Background(), "trace-1", "span-1")
	ctx = ContextWithRequestID(ctx, "req-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))

	core, logs := observer.New(zap.DebugLevel)
	NewLoggerFromZap(zap.New(core)).WithContext(ctx).Debug("routed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "span-1", fields["span_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestLogr(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	Logr(logger).Info("from logr", "key", "value")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "value", logs.All()[0].ContextMap()["key"])
}
