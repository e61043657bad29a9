// Package circuitbreaker implements a consecutive-failure circuit breaker
// and a registry holding one breaker per backend.
//
// A breaker starts closed. MaxFailures consecutive failures open it; while
// open every call fails fast with ErrCircuitOpen. Once Timeout has elapsed
// since it opened, exactly one trial call is let through: success closes
// the circuit, failure reopens it and restarts the timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates a single trial request is probing the backend.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	lastStateChange  time.Time
	trialInFlight    bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// transition is a state change to report once the lock is released.
type transition struct {
	from, to State
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil:
		cb.RecordSuccess()
	case !cb.countsAsFailure(err):
		cb.Release()
	default:
		cb.RecordFailure()
	}

	return err
}

// Allow reserves a call. It returns ErrCircuitOpen when the call must not
// be attempted. Every successful Allow must be followed by exactly one of
// RecordSuccess, RecordFailure or Release.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var tr *transition
	var err error

	switch cb.state {
	case StateClosed:
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
			tr = cb.transitionTo(StateHalfOpen)
			cb.trialInFlight = true
		} else {
			err = ErrCircuitOpen
		}
	case StateHalfOpen:
		if cb.trialInFlight {
			err = ErrCircuitOpen
		} else {
			cb.trialInFlight = true
		}
	}
	cb.mu.Unlock()

	cb.notify(tr)
	return err
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var tr *transition

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		tr = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var tr *transition

	cb.consecutiveFails++
	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.config.MaxFailures {
			tr = cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		tr = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// Release gives back a reservation without recording an outcome, e.g. when
// the caller cancelled. A released half-open trial lets the next call probe.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
	cb.mu.Unlock()
}

// transitionTo changes state. Callers hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) *transition {
	oldState := cb.state
	now := cb.now()

	cb.state = newState
	cb.lastStateChange = now
	cb.trialInFlight = false

	switch newState {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.consecutiveFails = 0
		cb.openedAt = time.Time{}
	}

	return &transition{from: oldState, to: newState}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}

	log := cb.logger.Info
	if tr.to == StateOpen {
		log = cb.logger.Warn
	}
	log("circuit breaker state changed",
		observability.String("name", cb.name),
		observability.String("from", tr.from.String()),
		observability.String("to", tr.to.String()),
	)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, tr.from, tr.to)
	}
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var tr *transition
	if cb.state != StateClosed {
		tr = cb.transitionTo(StateClosed)
	}
	cb.consecutiveFails = 0
	cb.mu.Unlock()

	cb.notify(tr)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		OpenedAt:         cb.openedAt,
		LastStateChange:  cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State            State
	ConsecutiveFails int
	// OpenedAt is zero unless the breaker has opened since it last closed.
	OpenedAt        time.Time
	LastStateChange time.Time
}
