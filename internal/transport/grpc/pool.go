package grpc

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// Pool tuning defaults.
const (
	DefaultKeepaliveTime    = 60 * time.Second
	DefaultKeepaliveTimeout = 20 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultMaxConnAge       = 5 * time.Minute

	// retireGrace is how long a replaced connection stays open for
	// in-flight calls.
	retireGrace = 30 * time.Second
)

// PoolConfig tunes pooled connections.
type PoolConfig struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	IdleTimeout      time.Duration
	MaxConnectionAge time.Duration
}

// DefaultPoolConfig returns the default tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		MaxConnectionAge: DefaultMaxConnAge,
	}
}

type pooledConn struct {
	conn    *grpc.ClientConn
	created time.Time
}

// ConnectionPool keeps one client connection per backend address. A
// connection is created at most once per address, even when many callers
// race on first use.
type ConnectionPool struct {
	conns     map[string]*pooledConn
	mu        sync.RWMutex
	cfg       PoolConfig
	dialOpts  []grpc.DialOption
	logger    observability.Logger
	onResize  func(int)
	now       func() time.Time
	retireFor time.Duration
}

// PoolOption is a functional option for configuring the connection pool.
type PoolOption func(*ConnectionPool)

// WithPoolLogger sets the logger for the connection pool.
func WithPoolLogger(logger observability.Logger) PoolOption {
	return func(p *ConnectionPool) {
		p.logger = logger
	}
}

// WithDialOptions appends dial options to the defaults.
func WithDialOptions(opts ...grpc.DialOption) PoolOption {
	return func(p *ConnectionPool) {
		p.dialOpts = append(p.dialOpts, opts...)
	}
}

// WithPoolConfig sets connection tuning.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return func(p *ConnectionPool) {
		p.cfg = cfg
	}
}

// WithResizeFunc registers a callback receiving the pool size after every
// change.
func WithResizeFunc(fn func(int)) PoolOption {
	return func(p *ConnectionPool) {
		p.onResize = fn
	}
}

// NewConnectionPool creates a new connection pool.
func NewConnectionPool(opts ...PoolOption) *ConnectionPool {
	p := &ConnectionPool{
		conns:     make(map[string]*pooledConn),
		cfg:       DefaultPoolConfig(),
		logger:    observability.NopLogger(),
		now:       time.Now,
		retireFor: retireGrace,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.dialOpts = append(p.defaultDialOptions(), p.dialOpts...)
	return p
}

func (p *ConnectionPool) defaultDialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if p.cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                p.cfg.KeepaliveTime,
			Timeout:             p.cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}
	if p.cfg.IdleTimeout > 0 {
		opts = append(opts, grpc.WithIdleTimeout(p.cfg.IdleTimeout))
	}
	return opts
}

// Get returns the connection for target, creating it if needed. Connections
// older than MaxConnectionAge or shut down are replaced.
func (p *ConnectionPool) Get(target string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	pc, exists := p.conns[target]
	p.mu.RUnlock()

	if exists && p.usable(pc) {
		return pc.conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	pc, exists = p.conns[target]
	if exists && p.usable(pc) {
		return pc.conn, nil
	}
	if exists {
		p.retire(target, pc)
	}

	p.logger.Debug("creating gRPC connection",
		observability.String("target", target),
	)

	conn, err := grpc.NewClient(target, p.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	p.conns[target] = &pooledConn{conn: conn, created: p.now()}
	p.resized()

	p.logger.Info("created gRPC connection",
		observability.String("target", target),
	)

	return conn, nil
}

func (p *ConnectionPool) usable(pc *pooledConn) bool {
	if pc == nil || pc.conn.GetState() == connectivity.Shutdown {
		return false
	}
	return p.cfg.MaxConnectionAge <= 0 || p.now().Sub(pc.created) < p.cfg.MaxConnectionAge
}

// retire drops pc from the pool and closes it once in-flight calls have had
// time to finish. Callers hold p.mu.
func (p *ConnectionPool) retire(target string, pc *pooledConn) {
	delete(p.conns, target)
	if pc.conn.GetState() == connectivity.Shutdown {
		return
	}
	p.logger.Debug("retiring gRPC connection",
		observability.String("target", target),
		observability.Duration("age", p.now().Sub(pc.created)),
	)
	conn := pc.conn
	time.AfterFunc(p.retireFor, func() { _ = conn.Close() })
}

func (p *ConnectionPool) resized() {
	if p.onResize != nil {
		p.onResize(len(p.conns))
	}
}

// Close closes all connections in the pool.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for target, pc := range p.conns {
		if err := pc.conn.Close(); err != nil {
			p.logger.Error("failed to close connection",
				observability.String("target", target),
				observability.Error(err),
			)
			lastErr = err
		}
	}

	p.conns = make(map[string]*pooledConn)
	p.resized()
	return lastErr
}

// Size returns the number of connections in the pool.
func (p *ConnectionPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
