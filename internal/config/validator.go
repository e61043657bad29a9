package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/vyrodovalexey/avadispatch/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateServices(config.Services)
	v.validateResilience(&config.Resilience)
	v.validateGRPC(&config.GRPC)
	v.validateHealth(&config.Health)
	v.validateObservability(&config.Observability)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(server *ServerConfig) {
	if server.Port < 1 || server.Port > 65535 {
		v.addError("server.port", fmt.Sprintf("port must be between 1 and 65535, got %d", server.Port))
	}
	if server.MaxBodySize < 0 {
		v.addError("server.maxBodySize", "maxBodySize cannot be negative")
	}
	for _, d := range []struct {
		path  string
		value Duration
	}{
		{"server.readTimeout", server.ReadTimeout},
		{"server.writeTimeout", server.WriteTimeout},
		{"server.idleTimeout", server.IdleTimeout},
		{"server.shutdownTimeout", server.ShutdownTimeout},
	} {
		if d.value < 0 {
			v.addError(d.path, "duration cannot be negative")
		}
	}
	if server.RateLimit.Enabled {
		if server.RateLimit.RequestsPerSecond <= 0 {
			v.addError("server.rateLimit.requestsPerSecond", "requestsPerSecond must be positive")
		}
		if server.RateLimit.Burst < 1 {
			v.addError("server.rateLimit.burst", "burst must be at least 1")
		}
	}
}

func (v *Validator) validateServices(services map[string]ServiceConfig) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := services[name]
		path := "services." + name

		if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
			v.addError(path, "service name must be non-empty and contain no '/'")
		}
		v.validateBaseURL(svc.BaseURL, path+".baseUrl")
		if svc.Timeout < 0 {
			v.addError(path+".timeout", "timeout must be a positive number of seconds")
		}
		if !strings.HasPrefix(svc.HealthCheckPath, "/") {
			v.addError(path+".healthCheckPath", "healthCheckPath must start with '/'")
		}
		for i, p := range svc.Protocols {
			if _, err := protocol.Parse(p); err != nil {
				v.addError(fmt.Sprintf("%s.protocols[%d]", path, i), err.Error())
			}
		}
	}
}

func (v *Validator) validateBaseURL(raw, path string) {
	if raw == "" {
		v.addError(path, "baseUrl is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, err.Error())
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(path, "baseUrl scheme must be http or https")
	}
	if u.Host == "" {
		v.addError(path, "baseUrl must include a host")
	}
}

func (v *Validator) validateResilience(r *ResilienceConfig) {
	if r.Retry.MaxAttempts < 1 {
		v.addError("resilience.retry.maxAttempts", "maxAttempts must be at least 1")
	}
	if r.Retry.BaseDelay < 0 {
		v.addError("resilience.retry.baseDelay", "baseDelay cannot be negative")
	}
	if r.CircuitBreaker.Enabled {
		if r.CircuitBreaker.MaxFailures < 1 {
			v.addError("resilience.circuitBreaker.maxFailures", "maxFailures must be at least 1")
		}
		if r.CircuitBreaker.Timeout <= 0 {
			v.addError("resilience.circuitBreaker.timeout", "timeout must be positive")
		}
	}
}

func (v *Validator) validateGRPC(g *GRPCConfig) {
	if g.KeepaliveTime < 0 || g.KeepaliveTimeout < 0 || g.IdleTimeout < 0 || g.MaxConnectionAge < 0 {
		v.addError("grpc", "durations cannot be negative")
	}
}

func (v *Validator) validateHealth(h *HealthConfig) {
	if h.Enabled && h.Interval <= 0 {
		v.addError("health.interval", "interval must be positive")
	}
	if h.Timeout < 0 {
		v.addError("health.timeout", "timeout cannot be negative")
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	switch strings.ToLower(o.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("observability.logging.level", fmt.Sprintf("unknown log level %q", o.Logging.Level))
	}
	switch strings.ToLower(o.Logging.Format) {
	case "", "json", "console":
	default:
		v.addError("observability.logging.format", "format must be json or console")
	}
	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("observability.metrics.path", "path must start with '/'")
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
