package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// Registry holds one breaker per name, created on first use.
type Registry struct {
	breakers sync.Map
	config   Config
	logger   observability.Logger
}

// NewRegistry creates a new circuit breaker registry. Every breaker gets a
// copy of config.
func NewRegistry(config *Config, logger observability.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		config: *config,
		logger: logger,
	}
}

// Get returns a circuit breaker by name, or nil if not found.
func (r *Registry) Get(name string) *CircuitBreaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*CircuitBreaker)
}

// GetOrCreate returns the breaker for name, creating it at most once even
// under concurrent first use.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	cfg := r.config
	cb := NewCircuitBreaker(name, &cfg, r.logger)

	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("name", name),
	)

	return cb
}

// Remove drops the breaker for name.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
}

// Snapshot returns the stats of every breaker, keyed by name.
func (r *Registry) Snapshot() map[string]Stats {
	out := make(map[string]Stats)
	r.breakers.Range(func(key, value any) bool {
		out[key.(string)] = value.(*CircuitBreaker).Stats()
		return true
	})
	return out
}

// Names returns the names of all breakers, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
