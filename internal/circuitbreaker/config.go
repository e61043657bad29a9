package circuitbreaker

import "time"

// Default configuration values.
const (
	DefaultMaxFailures = 5
	DefaultTimeout     = 30 * time.Second
)

// Config contains circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int

	// Timeout is how long the circuit stays open before a trial call is let
	// through.
	Timeout time.Duration

	// IsFailure decides whether an error counts against the backend. Errors
	// it rejects release the call without changing counters. Context
	// cancellation is never a failure, whatever IsFailure says.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures: DefaultMaxFailures,
		Timeout:     DefaultTimeout,
	}
}

// Validate replaces non-positive values with defaults.
func (c *Config) Validate() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}
