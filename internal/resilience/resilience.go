// Package resilience composes retry and circuit breaking around backend
// calls. Retry is the outer layer, so every attempt passes the breaker of
// the service it targets and an open circuit ends the retry loop at once.
package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/avadispatch/internal/circuitbreaker"
	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/retry"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

// Config configures a Policy.
type Config struct {
	Retry retry.Config

	// RetryOnNotFound makes upstream 404 and gRPC NotFound retryable.
	RetryOnNotFound bool

	BreakerEnabled bool
	Breaker        circuitbreaker.Config
}

// DefaultConfig returns three attempts with a one second base delay, retry
// on not-found, and a 5 failure / 30 second breaker.
func DefaultConfig() Config {
	return Config{
		Retry:           *retry.DefaultConfig(),
		RetryOnNotFound: true,
		BreakerEnabled:  true,
		Breaker:         *circuitbreaker.DefaultConfig(),
	}
}

// ConfigFrom maps the resilience section of the gateway configuration.
func ConfigFrom(cfg config.ResilienceConfig) Config {
	return Config{
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Duration(),
		},
		RetryOnNotFound: cfg.Retry.RetryOnNotFound,
		BreakerEnabled:  cfg.CircuitBreaker.Enabled,
		Breaker: circuitbreaker.Config{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			Timeout:     cfg.CircuitBreaker.Timeout.Duration(),
		},
	}
}

// Policy runs backend calls under retry and a per-service circuit breaker.
type Policy struct {
	retry       retry.Config
	shouldRetry retry.RetryCondition
	breakers    *circuitbreaker.Registry
	logger      observability.Logger
	metrics     *observability.Metrics
}

// Option is a functional option for Policy.
type Option func(*Policy)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink for retries and breaker transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Policy) {
		p.metrics = m
	}
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	p := &Policy{
		retry:       cfg.Retry,
		shouldRetry: RetryCondition(cfg.RetryOnNotFound),
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.BreakerEnabled {
		bc := cfg.Breaker
		bc.IsFailure = IsBreakerFailure
		bc.OnStateChange = p.onStateChange
		p.breakers = circuitbreaker.NewRegistry(&bc, p.logger)
	}

	return p
}

// RetryCondition returns the condition deciding which failures are retried.
// Cancellation, open circuits and caller mistakes never are.
func RetryCondition(retryOnNotFound bool) retry.RetryCondition {
	conditions := []retry.RetryCondition{
		retry.RetryOnNetworkErrors(),
		retry.RetryOnTimeout(),
		retry.RetryOnStatusCodes(408),
		retry.RetryOn5xx(),
		retry.RetryOnGRPCCodes(codes.Unavailable, codes.DeadlineExceeded),
	}
	if retryOnNotFound {
		conditions = append(conditions,
			retry.RetryOnStatusCodes(404),
			retry.RetryOnGRPCCodes(codes.NotFound),
		)
	}

	return retry.Except(retry.RetryOnAny(conditions...),
		context.Canceled,
		circuitbreaker.ErrCircuitOpen,
		transport.ErrInvalidRequest,
	)
}

// IsBreakerFailure reports whether err counts against a backend. Invalid
// requests say nothing about backend health. A gRPC Canceled status is the
// caller's cancellation surfaced by the client and is released like
// context.Canceled.
func IsBreakerFailure(err error) bool {
	if errors.Is(err, transport.ErrInvalidRequest) {
		return false
	}
	return status.Code(err) != codes.Canceled
}

// Execute runs fn for service. fn is called once per attempt and should
// apply its own per-attempt deadline.
func (p *Policy) Execute(ctx context.Context, service string, fn func(context.Context) error) error {
	var cb *circuitbreaker.CircuitBreaker
	if p.breakers != nil {
		cb = p.breakers.GetOrCreate(service)
	}

	attemptFn := func(ctx context.Context, attempt int) error {
		if cb == nil {
			return fn(ctx)
		}
		before := cb.State()
		err := cb.Execute(ctx, fn)
		if after := cb.State(); after != before {
			trace.SpanFromContext(ctx).AddEvent("circuit_breaker.state_change", trace.WithAttributes(
				attribute.String("service", service),
				attribute.String("from", before.String()),
				attribute.String("to", after.String()),
			))
		}
		return err
	}

	return retry.Do(ctx, &p.retry, attemptFn, &retry.Options{
		ShouldRetry: p.shouldRetry.ShouldRetry,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			p.logger.WithContext(ctx).Warn("retrying backend call",
				observability.String("service", service),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
			trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("backoff", backoff.String()),
			))
			p.metrics.RecordRetry(service, attempt)
		},
	})
}

// Breakers returns the breaker registry, or nil when breaking is disabled.
func (p *Policy) Breakers() *circuitbreaker.Registry {
	return p.breakers
}

func (p *Policy) onStateChange(name string, from, to circuitbreaker.State) {
	p.metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
}
