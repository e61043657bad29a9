package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *GatewayConfig {
	cfg := DefaultConfig()
	cfg.Services["orders"] = ServiceConfig{
		BaseURL:         "http://orders.local:8080",
		HealthCheckPath: DefaultHealthCheckPath,
		Timeout:         30,
		Protocols:       []string{"REST"},
	}
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateConfig(validConfig()))
	assert.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is nil")
}

func TestValidateConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
		path   string
	}{
		{
			name:   "port out of range",
			mutate: func(c *GatewayConfig) { c.Server.Port = 70000 },
			path:   "server.port",
		},
		{
			name: "missing base url",
			mutate: func(c *GatewayConfig) {
				svc := c.Services["orders"]
				svc.BaseURL = ""
				c.Services["orders"] = svc
			},
			path: "services.orders.baseUrl",
		},
		{
			name: "base url without scheme",
			mutate: func(c *GatewayConfig) {
				svc := c.Services["orders"]
				svc.BaseURL = "orders.local:8080"
				c.Services["orders"] = svc
			},
			path: "services.orders.baseUrl",
		},
		{
			name: "negative timeout",
			mutate: func(c *GatewayConfig) {
				svc := c.Services["orders"]
				svc.Timeout = -1
				c.Services["orders"] = svc
			},
			path: "services.orders.timeout",
		},
		{
			name: "unknown protocol",
			mutate: func(c *GatewayConfig) {
				svc := c.Services["orders"]
				svc.Protocols = []string{"REST", "SOAP"}
				c.Services["orders"] = svc
			},
			path: "services.orders.protocols[1]",
		},
		{
			name:   "zero retry attempts",
			mutate: func(c *GatewayConfig) { c.Resilience.Retry.MaxAttempts = 0 },
			path:   "resilience.retry.maxAttempts",
		},
		{
			name:   "breaker without failures",
			mutate: func(c *GatewayConfig) { c.Resilience.CircuitBreaker.MaxFailures = 0 },
			path:   "resilience.circuitBreaker.maxFailures",
		},
		{
			name: "rate limit without burst",
			mutate: func(c *GatewayConfig) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.Burst = 0
			},
			path: "server.rateLimit.burst",
		},
		{
			name:   "bad log level",
			mutate: func(c *GatewayConfig) { c.Observability.Logging.Level = "loud" },
			path:   "observability.logging.level",
		},
		{
			name:   "sampling rate above one",
			mutate: func(c *GatewayConfig) { c.Observability.Tracing.SamplingRate = 2 },
			path:   "observability.tracing.samplingRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			paths := make([]string, 0, len(verrs))
			for _, e := range verrs {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	single := ValidationErrors{{Path: "a", Message: "bad"}}
	assert.Equal(t, "a: bad", single.Error())

	multi := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}
	assert.Contains(t, multi.Error(), "2 validation errors")
	assert.Contains(t, multi.Error(), "2. worse")

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
}
