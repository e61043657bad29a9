package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatchTotal      *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	retryAttempts      *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	backendHealth      *prometheus.GaugeVec
	grpcConnections    prometheus.Gauge
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Total number of dispatched requests by service, protocol and envelope status",
		},
		[]string{"service", "protocol", "status"},
	)

	m.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch duration in seconds including retries",
			Buckets: []float64{
				.005, .01, .025, .05, .1,
				.25, .5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"service", "protocol"},
	)

	m.retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retried backend calls",
		},
		[]string{"service", "attempt"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	m.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	m.backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health probe result (1=healthy, 0=unhealthy)",
		},
		[]string{"service"},
	)

	m.grpcConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_pooled_connections",
			Help:      "Number of pooled gRPC client connections",
		},
	)

	m.registry.MustRegister(
		m.dispatchTotal,
		m.dispatchDuration,
		m.retryAttempts,
		m.breakerState,
		m.breakerTransitions,
		m.backendHealth,
		m.grpcConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordDispatch records the outcome of one dispatched request.
func (m *Metrics) RecordDispatch(service, protocol string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(service, protocol, strconv.Itoa(status)).Inc()
	m.dispatchDuration.WithLabelValues(service, protocol).Observe(duration.Seconds())
}

// RecordRetry records a retry of a backend call.
func (m *Metrics) RecordRetry(service string, attempt int) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(service, strconv.Itoa(attempt)).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
// States use the numeric encoding documented on circuit_breaker_state.
func (m *Metrics) RecordBreakerTransition(service, from, to string, state int) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(service, from, to).Inc()
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// SetBackendHealth records a backend health probe result.
func (m *Metrics) SetBackendHealth(service string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.backendHealth.WithLabelValues(service).Set(value)
}

// SetGRPCConnections records the size of the gRPC connection pool.
func (m *Metrics) SetGRPCConnections(n int) {
	if m == nil {
		return
	}
	m.grpcConnections.Set(float64(n))
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
