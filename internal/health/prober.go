package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/protocol"
	"github.com/vyrodovalexey/avadispatch/internal/registry"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
	grpctransport "github.com/vyrodovalexey/avadispatch/internal/transport/grpc"
)

// Default probe timings.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// errNotServing is reported when a gRPC backend answers but is not serving.
var errNotServing = errors.New("backend reports NOT_SERVING")

// Services lists the backends to probe. *registry.Registry implements it.
type Services interface {
	All() []*registry.ServiceDefinition
}

// Prober periodically probes every backend and records the results.
type Prober struct {
	checker  *Checker
	services Services
	client   *http.Client
	pool     *grpctransport.ConnectionPool
	interval time.Duration
	timeout  time.Duration
	logger   observability.Logger
	metrics  *observability.Metrics
}

// ProberOption is a functional option for Prober.
type ProberOption func(*Prober)

// WithInterval sets the time between probe rounds.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the per-probe deadline.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient sets the client for HTTP probes.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithPool enables gRPC health probes over pool. Without a pool gRPC-only
// backends are probed over HTTP like the others.
func WithPool(pool *grpctransport.ConnectionPool) ProberOption {
	return func(p *Prober) {
		p.pool = pool
	}
}

// WithProberLogger sets the logger.
func WithProberLogger(logger observability.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink for the backend health gauge.
func WithMetrics(m *observability.Metrics) ProberOption {
	return func(p *Prober) {
		p.metrics = m
	}
}

// NewProber creates a Prober feeding checker.
func NewProber(checker *Checker, services Services, opts ...ProberOption) *Prober {
	p := &Prober{
		checker:  checker,
		services: services,
		client:   transport.NewHTTPClient(),
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("health prober stopped")
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every backend concurrently and waits for the round to
// finish. Results of services no longer registered are dropped.
func (p *Prober) ProbeAll(ctx context.Context) {
	defs := p.services.All()

	names := make([]string, 0, len(defs))
	var wg sync.WaitGroup
	for _, def := range defs {
		names = append(names, def.Name)
		wg.Add(1)
		go func(def *registry.ServiceDefinition) {
			defer wg.Done()
			p.record(def.Name, p.Probe(ctx, def))
		}(def)
	}
	wg.Wait()

	p.checker.Retain(names)
}

// Probe checks one backend.
func (p *Prober) Probe(ctx context.Context, def *registry.ServiceDefinition) Check {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	if p.pool != nil && grpcOnly(def) {
		err = p.probeGRPC(ctx, def)
	} else {
		err = p.probeHTTP(ctx, def)
	}

	check := Check{
		Status:    StatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

func (p *Prober) record(service string, check Check) {
	p.checker.SetBackend(service, check)
	p.metrics.SetBackendHealth(service, check.Status == StatusHealthy)
}

func (p *Prober) probeHTTP(ctx context.Context, def *registry.ServiceDefinition) error {
	url := transport.JoinURL(def.Address(), def.HealthCheckPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return nil
}

func (p *Prober) probeGRPC(ctx context.Context, def *registry.ServiceDefinition) error {
	target, err := grpctransport.Target(def.Address())
	if err != nil {
		return err
	}
	conn, err := p.pool.Get(target)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	serving, err := grpctransport.CheckHealth(ctx, conn, def.GRPCService)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !serving {
		return errNotServing
	}
	return nil
}

// grpcOnly reports whether def speaks gRPC and nothing that has an HTTP
// health endpoint.
func grpcOnly(def *registry.ServiceDefinition) bool {
	return def.Supports(protocol.GRPC) &&
		!def.Supports(protocol.REST) &&
		!def.Supports(protocol.GraphQL)
}
