package config

import (
	"time"
)

// Default configuration values.
const (
	DefaultAddress            = "0.0.0.0"
	DefaultPort               = 8080
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 120 * time.Second
	DefaultIdleTimeout        = 120 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMaxBodySize        = 10 << 20
	DefaultHealthCheckPath    = "/health"
	DefaultServiceTimeoutSecs = 30

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerTimeout   = 30 * time.Second

	DefaultGRPCKeepaliveTime    = 60 * time.Second
	DefaultGRPCKeepaliveTimeout = 20 * time.Second
	DefaultGRPCIdleTimeout      = 30 * time.Second
	DefaultGRPCMaxConnAge       = 5 * time.Minute

	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "gateway"
)

// GatewayConfig is the root of the gateway configuration file.
type GatewayConfig struct {
	Server        ServerConfig             `yaml:"server" json:"server"`
	Services      map[string]ServiceConfig `yaml:"services" json:"services"`
	Resilience    ResilienceConfig         `yaml:"resilience" json:"resilience"`
	GRPC          GRPCConfig               `yaml:"grpc" json:"grpc"`
	Health        HealthConfig             `yaml:"health" json:"health"`
	Observability ObservabilityConfig      `yaml:"observability" json:"observability"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Address         string          `yaml:"address" json:"address"`
	Port            int             `yaml:"port" json:"port"`
	ReadTimeout     Duration        `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration        `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration        `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration        `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodySize     int64           `yaml:"maxBodySize" json:"maxBodySize"`
	CORS            CORSConfig      `yaml:"cors" json:"cors"`
	RateLimit       RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
}

// CORSConfig configures cross-origin handling on the gateway routes.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders" json:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders" json:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge" json:"maxAge"`
}

// RateLimitConfig configures the inbound token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	BaseURL         string   `yaml:"baseUrl" json:"baseUrl"`
	HealthCheckPath string   `yaml:"healthCheckPath" json:"healthCheckPath"`
	Timeout         int      `yaml:"timeout" json:"timeout"`
	Protocols       []string `yaml:"protocols" json:"protocols"`
	GRPCService     string   `yaml:"grpcService,omitempty" json:"grpcService,omitempty"`
}

// TimeoutDuration returns the per-call timeout.
func (s ServiceConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// ResilienceConfig configures retry and circuit breaking.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// RetryConfig configures outbound retries. The delay before retry n is
// BaseDelay * 2^n.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay       Duration `yaml:"baseDelay" json:"baseDelay"`
	RetryOnNotFound bool     `yaml:"retryOnNotFound" json:"retryOnNotFound"`
}

// CircuitBreakerConfig configures the per-service breaker.
type CircuitBreakerConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	MaxFailures int      `yaml:"maxFailures" json:"maxFailures"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
}

// GRPCConfig tunes pooled backend connections.
type GRPCConfig struct {
	KeepaliveTime    Duration `yaml:"keepaliveTime" json:"keepaliveTime"`
	KeepaliveTimeout Duration `yaml:"keepaliveTimeout" json:"keepaliveTimeout"`
	IdleTimeout      Duration `yaml:"idleTimeout" json:"idleTimeout"`
	MaxConnectionAge Duration `yaml:"maxConnectionAge" json:"maxConnectionAge"`
}

// HealthConfig configures backend probing.
type HealthConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Interval Duration `yaml:"interval" json:"interval"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// DefaultConfig returns a configuration with every default applied and no
// services.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Address:         DefaultAddress,
			Port:            DefaultPort,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			MaxBodySize:     DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:      true,
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowHeaders: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
			},
		},
		Services: map[string]ServiceConfig{},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts:     DefaultRetryMaxAttempts,
				BaseDelay:       Duration(DefaultRetryBaseDelay),
				RetryOnNotFound: true,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: DefaultBreakerFailures,
				Timeout:     Duration(DefaultBreakerTimeout),
			},
		},
		GRPC: GRPCConfig{
			KeepaliveTime:    Duration(DefaultGRPCKeepaliveTime),
			KeepaliveTimeout: Duration(DefaultGRPCKeepaliveTimeout),
			IdleTimeout:      Duration(DefaultGRPCIdleTimeout),
			MaxConnectionAge: Duration(DefaultGRPCMaxConnAge),
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: Duration(DefaultProbeInterval),
			Timeout:  Duration(DefaultProbeTimeout),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      DefaultMetricsPath,
				Namespace: DefaultMetricsNamespace,
			},
			Tracing: TracingConfig{
				ServiceName:  "avadispatch",
				SamplingRate: 1.0,
			},
		},
	}
}

// applyServiceDefaults fills per-service defaults that cannot be expressed
// by pre-populating the struct before decoding.
func (c *GatewayConfig) applyServiceDefaults() {
	for name, svc := range c.Services {
		if svc.HealthCheckPath == "" {
			svc.HealthCheckPath = DefaultHealthCheckPath
		}
		if svc.Timeout == 0 {
			svc.Timeout = DefaultServiceTimeoutSecs
		}
		c.Services[name] = svc
	}
}
