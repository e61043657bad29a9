package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/dispatch"
	"github.com/vyrodovalexey/avadispatch/internal/health"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/protocol"
	"github.com/vyrodovalexey/avadispatch/internal/registry"
	"github.com/vyrodovalexey/avadispatch/internal/resilience"
	"github.com/vyrodovalexey/avadispatch/internal/server"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
	"github.com/vyrodovalexey/avadispatch/internal/transport/graphql"
	grpctransport "github.com/vyrodovalexey/avadispatch/internal/transport/grpc"
	"github.com/vyrodovalexey/avadispatch/internal/transport/rest"
)

// grpcHealthService is the fully-qualified name of the standard health service.
const grpcHealthService = "grpc.health.v1.Health"

// application holds all application components.
type application struct {
	logger     observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	registry   *registry.Registry
	pool       *grpctransport.ConnectionPool
	reflection *grpctransport.ReflectionStrategy
	strategies *grpctransport.Strategies
	policy     *resilience.Policy
	dispatcher *dispatch.Dispatcher
	checker    *health.Checker
	prober     *health.Prober
	server     *server.Server

	draining atomic.Bool

	mu     sync.Mutex
	config *config.GatewayConfig
}

// newApplication wires every component from cfg. Nothing is started.
func newApplication(cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	obs := cfg.Observability

	var metrics *observability.Metrics
	if obs.Metrics.Enabled {
		metrics = observability.NewMetrics(obs.Metrics.Namespace)
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  obs.Tracing.ServiceName,
		OTLPEndpoint: obs.Tracing.OTLPEndpoint,
		SamplingRate: obs.Tracing.SamplingRate,
		Enabled:      obs.Tracing.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	reg, err := registry.LoadFromConfig(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}

	app := &application{
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		registry: reg,
		config:   cfg,
	}

	app.pool = grpctransport.NewConnectionPool(
		grpctransport.WithPoolLogger(logger),
		grpctransport.WithPoolConfig(grpctransport.PoolConfig{
			KeepaliveTime:    cfg.GRPC.KeepaliveTime.Duration(),
			KeepaliveTimeout: cfg.GRPC.KeepaliveTimeout.Duration(),
			IdleTimeout:      cfg.GRPC.IdleTimeout.Duration(),
			MaxConnectionAge: cfg.GRPC.MaxConnectionAge.Duration(),
		}),
		grpctransport.WithResizeFunc(metrics.SetGRPCConnections),
	)

	app.reflection = grpctransport.NewReflectionStrategy(logger)
	// Keyed by gRPC service name: it serves any backend whose path or
	// grpcService names grpc.health.v1.Health.
	app.strategies = grpctransport.NewStrategies()
	app.strategies.Register(grpcHealthService, grpctransport.HealthStrategy{})
	app.strategies.SetFallback(app.reflection)

	httpClient := transport.NewHTTPClient()

	app.policy = resilience.New(resilience.ConfigFrom(cfg.Resilience),
		resilience.WithLogger(logger),
		resilience.WithMetrics(metrics),
	)

	app.dispatcher = dispatch.New(reg,
		dispatch.WithTransport(protocol.REST, rest.New(
			rest.WithHTTPClient(httpClient),
			rest.WithLogger(logger),
		)),
		dispatch.WithTransport(protocol.GraphQL, graphql.New(
			graphql.WithHTTPClient(httpClient),
			graphql.WithLogger(logger),
		)),
		dispatch.WithTransport(protocol.GRPC, grpctransport.New(app.pool,
			grpctransport.WithLogger(logger),
			grpctransport.WithStrategies(app.strategies),
		)),
		dispatch.WithPolicy(app.policy),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
	)

	app.checker = health.NewChecker(version, logger)
	app.checker.RegisterCheck("shutdown", app.shutdownCheck)

	if cfg.Health.Enabled {
		app.prober = health.NewProber(app.checker, reg,
			health.WithInterval(cfg.Health.Interval.Duration()),
			health.WithTimeout(cfg.Health.Timeout.Duration()),
			health.WithHTTPClient(httpClient),
			health.WithPool(app.pool),
			health.WithProberLogger(logger),
			health.WithMetrics(metrics),
		)
	}

	app.server = server.New(cfg.Server, server.Options{
		Dispatcher:  app.dispatcher,
		Checker:     app.checker,
		Metrics:     metrics,
		MetricsPath: obs.Metrics.Path,
		Logger:      logger,
	})

	return app, nil
}

// shutdownCheck fails once draining starts so load balancers stop routing.
func (a *application) shutdownCheck() health.Check {
	if a.draining.Load() {
		return health.Check{Status: health.StatusUnhealthy, Message: "shutting down"}
	}
	return health.Check{Status: health.StatusHealthy}
}

// run serves until ctx is done, then shuts down gracefully.
func (a *application) run(ctx context.Context, configPath string) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.prober != nil {
		go a.prober.Run(bgCtx)
	}

	watcher := a.startConfigWatcher(bgCtx, configPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start(bgCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("HTTP server failed", observability.Error(serveErr))
		}
	}

	a.shutdown(watcher)
	cancel()
	return serveErr
}

// shutdown drains the server and releases every resource.
func (a *application) shutdown(watcher *config.Watcher) {
	a.draining.Store(true)

	timeout := a.currentConfig().Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	if err := a.pool.Close(); err != nil {
		a.logger.Error("failed to close gRPC connections", observability.Error(err))
	}

	if err := a.tracer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	a.logger.Info("gateway stopped", observability.Duration("timeout", timeout))
}

func (a *application) currentConfig() *config.GatewayConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// startConfigWatcher starts hot reload of the service table. A watcher that
// cannot start is logged and the gateway keeps its startup configuration.
func (a *application) startConfigWatcher(ctx context.Context, configPath string) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, a.reload,
		config.WithLogger(a.logger),
		config.WithDebounceDelay(250*time.Millisecond),
	)
	if err != nil {
		a.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}
