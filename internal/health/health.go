package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the gateway serves but some backends fail.
	StatusDegraded Status = "degraded"
	// StatusUnknown indicates a backend has not been probed yet.
	StatusUnknown Status = "unknown"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// HealthResponse represents the liveness response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Backends  map[string]Check `json:"backends,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual check result.
type Check struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Latency   string    `json:"latency,omitempty"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// CheckFunc is a function that performs a local check.
type CheckFunc func() Check

// Checker aggregates local checks and backend probe results.
type Checker struct {
	version   string
	startTime time.Time
	logger    observability.Logger

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	backends map[string]Check
}

// NewChecker creates a new health checker.
func NewChecker(version string, logger observability.Logger) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Checker{
		version:   version,
		startTime: time.Now(),
		logger:    logger,
		checks:    make(map[string]CheckFunc),
		backends:  make(map[string]Check),
	}
}

// RegisterCheck registers a local check. A failing local check makes the
// gateway unready.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a local check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// SetBackend stores the latest probe result for a backend and logs
// health changes.
func (c *Checker) SetBackend(service string, check Check) {
	c.mu.Lock()
	previous, known := c.backends[service]
	c.backends[service] = check
	c.mu.Unlock()

	if known && previous.Status == check.Status {
		return
	}
	if check.Status == StatusHealthy {
		c.logger.Info("backend is healthy", observability.String("service", service))
		return
	}
	c.logger.Warn("backend is unhealthy",
		observability.String("service", service),
		observability.String("reason", check.Message),
	)
}

// Retain drops probe results for services not in names.
func (c *Checker) Retain(names []string) {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.backends {
		if _, ok := keep[name]; !ok {
			delete(c.backends, name)
		}
	}
}

// Backend returns the latest probe result for service.
func (c *Checker) Backend(service string) (Check, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	check, ok := c.backends[service]
	return check, ok
}

// Backends returns the names of probed backends, sorted.
func (c *Checker) Backends() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.backends))
	for name := range c.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness returns the readiness status. Failing local checks make the
// gateway unhealthy; failing backends only degrade it, since requests to
// the remaining backends are still served.
func (c *Checker) Readiness() ReadinessResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(c.checks)),
		Backends:  make(map[string]Check, len(c.backends)),
		Timestamp: time.Now(),
	}

	for name, checkFunc := range c.checks {
		check := checkFunc()
		response.Checks[name] = check

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	for name, check := range c.backends {
		response.Backends[name] = check
		if check.Status == StatusUnhealthy && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// HealthHandler returns an HTTP handler for the liveness endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler returns an HTTP handler for the readiness endpoint.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response := c.Readiness()

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
