package observability

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every gateway component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	// WithContext adds the request, trace and span IDs stored in ctx.
	WithContext(ctx context.Context) Logger
	Sync() error
}

// Field is a single structured log field.
type Field = zap.Field

// Field constructors used across the gateway.
var (
	String   = zap.String
	Int      = zap.Int
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)

// LogConfig selects the level, encoding and sink of the gateway log.
type LogConfig struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is json or console. Anything else is json.
	Format string
	// Output is stdout, stderr or a file path. Empty means stdout.
	Output string
}

type zapLogger struct {
	z *zap.Logger
}

// NewLogger builds a zap-backed Logger from cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return &zapLogger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
}

// NewLoggerFromZap adapts an existing zap logger. Tests use it with
// zaptest/observer cores.
func NewLoggerFromZap(z *zap.Logger) Logger {
	if z == nil {
		return NopLogger()
	}
	return &zapLogger{z: z}
}

// NopLogger returns a logger that discards all output.
func NopLogger() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) Sync() error                       { return l.z.Sync() }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	fields := logContextFrom(ctx).fields()
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Logr exposes the logger as a logr.Logger for libraries that only speak
// logr, such as the OpenTelemetry SDK.
func Logr(l Logger) logr.Logger {
	if zl, ok := l.(*zapLogger); ok {
		return zapr.NewLogger(zl.z)
	}
	return logr.Discard()
}

// logContext is the request-scoped data WithContext attaches to entries.
type logContext struct {
	requestID string
	traceID   string
	spanID    string
}

type logContextKey struct{}

func logContextFrom(ctx context.Context) logContext {
	if ctx == nil {
		return logContext{}
	}
	lc, _ := ctx.Value(logContextKey{}).(logContext)
	return lc
}

func (lc logContext) fields() []Field {
	var fields []Field
	if lc.requestID != "" {
		fields = append(fields, String("request_id", lc.requestID))
	}
	if lc.traceID != "" {
		fields = append(fields, String("trace_id", lc.traceID))
	}
	if lc.spanID != "" {
		fields = append(fields, String("span_id", lc.spanID))
	}
	return fields
}

// ContextWithRequestID stores the gateway request ID in ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	lc := logContextFrom(ctx)
	lc.requestID = requestID
	return context.WithValue(ctx, logContextKey{}, lc)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	return logContextFrom(ctx).requestID
}

// TraceIDFromContext returns the trace ID stored in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	return logContextFrom(ctx).traceID
}

func contextWithTrace(ctx context.Context, traceID, spanID string) context.Context {
	lc := logContextFrom(ctx)
	if traceID != "" {
		lc.traceID = traceID
	}
	if spanID != "" {
		lc.spanID = spanID
	}
	return context.WithValue(ctx, logContextKey{}, lc)
}
