// Package dispatch is the gateway core. A Dispatcher resolves a service
// name, selects the protocol for the requested path, and forwards the call
// through the resilience policy to the matching transport. Every failure
// it returns is a *gwerrors.Error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/avadispatch/internal/gwerrors"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/protocol"
	"github.com/vyrodovalexey/avadispatch/internal/registry"
	"github.com/vyrodovalexey/avadispatch/internal/resilience"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

const tracerName = "avadispatch/dispatch"

// Request is one inbound call addressed to a logical service.
type Request struct {
	ServiceName string
	// Path is forwarded verbatim, query string included.
	Path    string
	Method  string
	Body    json.RawMessage
	Headers *transport.Headers
}

// Lookup resolves service names. *registry.Registry implements it.
type Lookup interface {
	Lookup(name string) (*registry.ServiceDefinition, error)
}

// Dispatcher forwards requests to backends.
type Dispatcher struct {
	services   Lookup
	transports map[protocol.Protocol]transport.Transport
	policy     *resilience.Policy
	logger     observability.Logger
	metrics    *observability.Metrics
}

// Option is a functional option for Dispatcher.
type Option func(*Dispatcher)

// WithTransport registers the adapter for p. A nil adapter leaves p
// unserved.
func WithTransport(p protocol.Protocol, t transport.Transport) Option {
	return func(d *Dispatcher) {
		if t == nil {
			delete(d.transports, p)
			return
		}
		d.transports[p] = t
	}
}

// WithPolicy sets the resilience policy.
func WithPolicy(p *resilience.Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a Dispatcher. Without WithPolicy the default policy is used.
func New(services Lookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		services:   services,
		transports: make(map[protocol.Protocol]transport.Transport),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.policy == nil {
		d.policy = resilience.New(resilience.DefaultConfig(),
			resilience.WithLogger(d.logger),
			resilience.WithMetrics(d.metrics),
		)
	}
	return d
}

// Send forwards req and returns the backend reply.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*transport.Result, error) {
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.send",
		trace.WithAttributes(
			attribute.String("gateway.service", req.ServiceName),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	logger := d.logger.WithContext(ctx).With(
		observability.String("service", req.ServiceName),
		observability.String("method", req.Method),
		observability.String("path", req.Path),
	)

	def, err := d.services.Lookup(req.ServiceName)
	if err != nil {
		gwErr := gwerrors.Classify(req.ServiceName, err)
		d.finish(span, logger, req.ServiceName, "", start, nil, gwErr)
		return nil, gwErr
	}

	proto := protocol.Resolve(def, req.Path)
	span.SetAttributes(attribute.String("gateway.protocol", proto.String()))

	adapter, ok := d.transports[proto]
	if !ok {
		gwErr := gwerrors.InvalidProtocol(def.Name, proto.String(), nil)
		d.finish(span, logger, def.Name, proto.String(), start, nil, gwErr)
		return nil, gwErr
	}

	call := &transport.Call{
		Service:     def.Name,
		BaseURL:     def.Address(),
		Path:        req.Path,
		Method:      req.Method,
		Body:        req.Body,
		Headers:     req.Headers,
		GRPCService: def.GRPCService,
	}

	var result *transport.Result
	err = d.policy.Execute(ctx, def.Name, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, def.Timeout)
		defer cancel()

		r, err := adapter.Invoke(attemptCtx, call)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		gwErr := classify(ctx, def.Name, proto, err)
		d.finish(span, logger, def.Name, proto.String(), start, nil, gwErr)
		return nil, gwErr
	}

	d.finish(span, logger, def.Name, proto.String(), start, result, nil)
	return result, nil
}

// SendAs sends req and decodes the reply payload into T. An empty payload
// yields the zero value.
func SendAs[T any](ctx context.Context, d *Dispatcher, req Request) (T, error) {
	var out T

	result, err := d.Send(ctx, req)
	if err != nil {
		return out, err
	}
	if len(result.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(result.Body, &out); err != nil {
		return out, gwerrors.Internal("Failed to decode the backend response", err)
	}
	return out, nil
}

// classify maps a failed call onto the taxonomy. Caller cancellation wins
// over whatever the transport reported.
func classify(ctx context.Context, service string, proto protocol.Protocol, err error) *gwerrors.Error {
	if gwErr, ok := gwerrors.As(err); ok {
		return gwErr
	}
	if errors.Is(err, transport.ErrInvalidRequest) {
		return gwerrors.InvalidProtocol(service, proto.String(), err)
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return gwerrors.Canceled(service, err)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return gwerrors.Timeout(service, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return gwerrors.Timeout(service, err)
		case codes.Canceled:
			return gwerrors.Canceled(service, err)
		}
	}

	return gwerrors.Classify(service, err)
}

func (d *Dispatcher) finish(
	span trace.Span,
	logger observability.Logger,
	service, proto string,
	start time.Time,
	result *transport.Result,
	gwErr *gwerrors.Error,
) {
	duration := time.Since(start)

	if gwErr != nil {
		span.RecordError(gwErr)
		span.SetStatus(otelcodes.Error, gwErr.Message)
		span.SetAttributes(attribute.String("gateway.error.kind", gwErr.Kind.String()))
		d.metrics.RecordDispatch(service, proto, gwErr.StatusCode(), duration)

		logger.Warn("dispatch failed",
			observability.String("protocol", proto),
			observability.String("kind", gwErr.Kind.String()),
			observability.Int("status", gwErr.StatusCode()),
			observability.Duration("duration", duration),
			observability.Error(gwErr),
		)
		return
	}

	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	d.metrics.RecordDispatch(service, proto, result.StatusCode, duration)

	logger.Debug("dispatch completed",
		observability.String("protocol", proto),
		observability.Int("status", result.StatusCode),
		observability.Duration("duration", duration),
	)
}
