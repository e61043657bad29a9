// Package grpc calls unary gRPC backends on behalf of the gateway.
//
// The gateway has no schema for its backends, so each call goes through a
// Strategy registered for the service: a typed stub written by hand, or the
// ReflectionStrategy that discovers the method through server reflection
// and transcodes JSON dynamically. A service without a strategy fails with
// ErrUnsupportedOperation.
package grpc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

const tracerName = "avadispatch/transport/grpc"

// Client is the gRPC transport.
type Client struct {
	pool       *ConnectionPool
	strategies *Strategies
	logger     observability.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStrategies sets the strategy table.
func WithStrategies(s *Strategies) Option {
	return func(c *Client) {
		c.strategies = s
	}
}

// New creates a gRPC transport over pool.
func New(pool *ConnectionPool, opts ...Option) *Client {
	c := &Client{
		pool:   pool,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.strategies == nil {
		c.strategies = NewStrategies()
	}
	return c
}

// Strategies returns the strategy table so callers can register more.
func (c *Client) Strategies() *Strategies {
	return c.strategies
}

// Pool returns the connection pool.
func (c *Client) Pool() *ConnectionPool {
	return c.pool
}

// Invoke runs the call through the service's strategy.
func (c *Client) Invoke(ctx context.Context, call *transport.Call) (*transport.Result, error) {
	path := stripQuery(call.Path)
	operation := Operation(path)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "transport.grpc",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", call.Service),
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.method", operation),
		),
	)
	defer span.End()

	// The gateway service name wins over the gRPC service named by the
	// path or configured for the backend.
	strategy, ok := c.strategies.Lookup(call.Service, ServiceName(path, call.GRPCService))
	if !ok {
		err := fmt.Errorf("%w: no strategy registered for service %q", ErrUnsupportedOperation, call.Service)
		span.RecordError(err)
		return nil, err
	}
	if operation == "" {
		return nil, fmt.Errorf("%w: path %q names no operation", ErrUnsupportedOperation, call.Path)
	}

	target, err := Target(call.BaseURL)
	if err != nil {
		return nil, err
	}
	conn, err := c.pool.Get(target)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	md := MetadataFromHeaders(call.Headers)
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(md))
	ctx = metadata.NewOutgoingContext(ctx, md)

	body, err := strategy.Invoke(ctx, conn, &Request{
		Service:     call.Service,
		GRPCService: call.GRPCService,
		Path:        path,
		Operation:   operation,
		Body:        call.Body,
		Metadata:    md,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rpc failed")
		c.logger.Debug("gRPC call failed",
			observability.String("service", call.Service),
			observability.String("operation", operation),
			observability.Error(err),
		)
		return nil, err
	}

	return &transport.Result{StatusCode: http.StatusOK, Body: body}, nil
}

// Operation returns the last segment of path.
func Operation(path string) string {
	path = strings.TrimRight(stripQuery(path), "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Target converts a backend base URL into a gRPC dial target.
func Target(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid gRPC base address %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid gRPC base address %q: no host", baseURL)
	}
	if u.Port() == "" {
		if u.Scheme == "https" {
			return u.Host + ":443", nil
		}
		return u.Host + ":80", nil
	}
	return u.Host, nil
}

// reservedMetadata are headers gRPC manages itself.
var reservedMetadata = map[string]struct{}{
	"content-type":    {},
	"content-length":  {},
	"accept":          {},
	"accept-encoding": {},
	"te":              {},
	"user-agent":      {},
}

// MetadataFromHeaders converts forwardable headers into outgoing metadata.
func MetadataFromHeaders(h *transport.Headers) metadata.MD {
	md := metadata.MD{}
	h.Each(func(name, value string) {
		key := strings.ToLower(name)
		if transport.IsExcludedHeader(key) || strings.HasPrefix(key, "grpc-") || strings.HasPrefix(key, ":") {
			return
		}
		if _, reserved := reservedMetadata[key]; reserved {
			return
		}
		md.Set(key, value)
	})
	return md
}

type metadataCarrier metadata.MD

var _ propagation.TextMapCarrier = metadataCarrier(nil)

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
