package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/health"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/server/middleware"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Route paths.
const (
	GatewayPrefix = "/gateway"
	HealthPath    = "/health"
	ReadyPath     = "/ready"
)

// Options holds the collaborators of a Server.
type Options struct {
	Dispatcher Dispatcher
	Checker    *health.Checker
	// Metrics is served on MetricsPath when both are set.
	Metrics     *observability.Metrics
	MetricsPath string
	Logger      observability.Logger
}

// Server is the inbound HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	logger     observability.Logger
	mu         sync.RWMutex
	running    bool
	closed     bool
}

// New builds the engine, middleware chain and routes.
func New(cfg config.ServerConfig, opts Options) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Checker == nil {
		opts.Checker = health.NewChecker("", opts.Logger)
	}

	s := &Server{
		engine: gin.New(),
		config: cfg,
		logger: opts.Logger,
	}

	probes := []string{HealthPath, ReadyPath}
	if opts.Metrics != nil && opts.MetricsPath != "" {
		probes = append(probes, opts.MetricsPath)
	}

	s.engine.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Tracing(probes...),
		middleware.LoggingWithConfig(middleware.LoggingConfig{Logger: s.logger, SkipPaths: probes}),
	)
	if cfg.CORS.Enabled {
		s.engine.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}
	if cfg.RateLimit.Enabled {
		s.engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Logger:            s.logger,
			SkipPaths:         probes,
		}))
	}
	if cfg.MaxBodySize > 0 {
		s.engine.Use(s.maxRequestBodySizeMiddleware())
	}

	s.engine.GET(HealthPath, gin.WrapF(opts.Checker.HealthHandler()))
	s.engine.GET(ReadyPath, gin.WrapF(opts.Checker.ReadinessHandler()))
	if opts.Metrics != nil && opts.MetricsPath != "" {
		s.engine.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}

	if opts.Dispatcher != nil {
		h := NewGatewayHandler(opts.Dispatcher, s.logger)
		gw := s.engine.Group(GatewayPrefix)
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			gw.Handle(method, "/:service/*path", h.Handle)
		}
	}

	s.engine.HandleMethodNotAllowed = true
	s.engine.NoRoute(notFound)
	s.engine.NoMethod(methodNotAllowed)

	return s
}

// maxRequestBodySizeMiddleware limits request body size.
func (s *Server) maxRequestBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodySize)
		c.Next()
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Address, fmt.Sprintf("%d", s.config.Port))
}

// Start listens on the configured address and blocks until Stop.
func (s *Server) Start(ctx context.Context) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis and blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return lis.Close()
	}
	if s.running {
		s.mu.Unlock()
		_ = lis.Close()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: s.config.ReadTimeout.Duration(),
		WriteTimeout:      s.config.WriteTimeout.Duration(),
		IdleTimeout:       s.config.IdleTimeout.Duration(),
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", lis.Addr().String()),
		observability.Duration("readTimeout", s.config.ReadTimeout.Duration()),
		observability.Duration("writeTimeout", s.config.WriteTimeout.Duration()),
	)

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx ends. A server stopped before it
// started never serves.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped", observability.Duration("drain", time.Since(start)))
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
