package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.0.0", nil)
	response := checker.Health()

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "1.0.0", response.Version)
	assert.NotEmpty(t, response.Uptime)
	assert.False(t, response.Timestamp.IsZero())
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checks   map[string]Status
		backends map[string]Status
		expected Status
	}{
		{"nothing registered", nil, nil, StatusHealthy},
		{"all healthy", map[string]Status{"config": StatusHealthy}, map[string]Status{"orders": StatusHealthy}, StatusHealthy},
		{"backend down degrades", nil, map[string]Status{"orders": StatusHealthy, "users": StatusUnhealthy}, StatusDegraded},
		{"local check down", map[string]Status{"config": StatusUnhealthy}, map[string]Status{"orders": StatusHealthy}, StatusUnhealthy},
		{"local degraded", map[string]Status{"config": StatusDegraded}, nil, StatusDegraded},
		{"unhealthy wins over degraded", map[string]Status{"a": StatusDegraded, "b": StatusUnhealthy}, map[string]Status{"x": StatusUnhealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			checker := NewChecker("test", nil)
			for name, status := range tt.checks {
				status := status
				checker.RegisterCheck(name, func() Check { return Check{Status: status} })
			}
			for name, status := range tt.backends {
				checker.SetBackend(name, Check{Status: status})
			}

			response := checker.Readiness()
			assert.Equal(t, tt.expected, response.Status)
			assert.Len(t, response.Checks, len(tt.checks))
			assert.Len(t, response.Backends, len(tt.backends))
		})
	}
}

func TestChecker_UnregisterCheck(t *testing.T) {
	t.Parallel()

	checker := NewChecker("test", nil)
	checker.RegisterCheck("config", func() Check { return Check{Status: StatusUnhealthy} })
	checker.UnregisterCheck("config")

	assert.Equal(t, StatusHealthy, checker.Readiness().Status)
}

func TestChecker_Retain(t *testing.T) {
	t.Parallel()

	checker := NewChecker("test", nil)
	checker.SetBackend("orders", Check{Status: StatusHealthy})
	checker.SetBackend("users", Check{Status: StatusUnhealthy})

	checker.Retain([]string{"orders"})

	assert.Equal(t, []string{"orders"}, checker.Backends())
	_, ok := checker.Backend("users")
	assert.False(t, ok)
}

func TestChecker_SetBackendLogsTransitions(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	checker := NewChecker("test", observability.NewLoggerFromZap(zap.New(core)))

	checker.SetBackend("orders", Check{Status: StatusHealthy})
	checker.SetBackend("orders", Check{Status: StatusHealthy})
	checker.SetBackend("orders", Check{Status: StatusUnhealthy, Message: "refused"})
	checker.SetBackend("orders", Check{Status: StatusUnhealthy, Message: "refused"})

	assert.Equal(t, 1, logs.FilterMessage("backend is healthy").Len())
	unhealthy := logs.FilterMessage("backend is unhealthy").All()
	require.Len(t, unhealthy, 1)
	assert.Equal(t, "refused", unhealthy[0].ContextMap()["reason"])
}

func TestHandlers(t *testing.T) {
	t.Parallel()

	checker := NewChecker("2.0.0", nil)
	checker.SetBackend("orders", Check{Status: StatusUnhealthy, Message: "down"})

	rec := httptest.NewRecorder()
	checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "2.0.0", health.Version)

	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "a degraded gateway stays ready")

	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, StatusDegraded, ready.Status)
	assert.Equal(t, "down", ready.Backends["orders"].Message)

	checker.RegisterCheck("config", func() Check { return Check{Status: StatusUnhealthy} })
	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
