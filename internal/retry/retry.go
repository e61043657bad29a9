package retry

import (
	"context"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of attempts, the first included.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default backoff base.
	DefaultBaseDelay = time.Second

	// maxShift bounds the exponent so Backoff cannot overflow.
	maxShift = 30
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxAttempts is the total number of attempts. Default is 3.
	MaxAttempts int

	// BaseDelay is multiplied by 2^n before retry n. Zero disables waiting.
	BaseDelay time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// GetMaxAttempts returns the effective attempt count.
func (c *Config) GetMaxAttempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// GetBaseDelay returns the effective backoff base.
func (c *Config) GetBaseDelay() time.Duration {
	if c == nil || c.BaseDelay < 0 {
		return DefaultBaseDelay
	}
	return c.BaseDelay
}

// Backoff returns the delay before retry n (n >= 1).
func (c *Config) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > maxShift {
		n = maxShift
	}
	return c.GetBaseDelay() * time.Duration(1<<uint(n))
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before sleeping ahead of retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unchanged. If ctx ends
// while waiting, ctx.Err() is returned.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxAttempts := cfg.GetMaxAttempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		backoff := cfg.Backoff(attempt)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, backoff)
		}

		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}

	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
