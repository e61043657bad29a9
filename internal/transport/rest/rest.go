// Package rest forwards gateway calls to plain HTTP/JSON backends.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

const tracerName = "avadispatch/transport/rest"

// defaultMaxResponseSize caps how much of a backend reply is buffered.
const defaultMaxResponseSize = 10 << 20

// Client is the REST transport.
type Client struct {
	httpClient      *http.Client
	logger          observability.Logger
	maxResponseSize int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithMaxResponseSize caps buffered response bodies.
func WithMaxResponseSize(n int64) Option {
	return func(cl *Client) {
		cl.maxResponseSize = n
	}
}

// New creates a REST transport.
func New(opts ...Option) *Client {
	c := &Client{
		logger:          observability.NopLogger(),
		maxResponseSize: defaultMaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = transport.NewHTTPClient()
	}
	return c
}

// Invoke sends call.Method to BaseURL+Path. POST and PUT carry the body as
// JSON. Any non-2xx reply is returned as *transport.StatusError.
func (c *Client) Invoke(ctx context.Context, call *transport.Call) (*transport.Result, error) {
	if !transport.ValidMethod(call.Method) {
		return nil, fmt.Errorf("%w: unsupported method %q", transport.ErrInvalidRequest, call.Method)
	}

	target := transport.JoinURL(call.BaseURL, call.Path)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "transport.rest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", call.Service),
			attribute.String("http.method", call.Method),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	var body io.Reader
	if hasBody(call) {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	call.Headers.ApplyTo(req.Header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	observability.InjectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		c.logger.Debug("backend returned non-success status",
			observability.String("service", call.Service),
			observability.String("method", call.Method),
			observability.Int("status", resp.StatusCode),
		)
		return nil, &transport.StatusError{StatusCode: resp.StatusCode, Body: payload}
	}

	result := &transport.Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}
	if call.Method == transport.MethodDelete {
		return result, nil
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return result, nil
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("backend %s returned a non-JSON payload", call.Service)
	}
	result.Body = json.RawMessage(payload)
	return result, nil
}

func hasBody(call *transport.Call) bool {
	if len(call.Body) == 0 {
		return false
	}
	return call.Method == transport.MethodPost || call.Method == transport.MethodPut
}
