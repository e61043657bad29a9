// Package graphql sends gateway calls to GraphQL backends.
//
// Every operation is a POST of {query, variables} to the backend's /graphql
// endpoint. A reply carrying a non-empty errors list is a failure even when
// the HTTP status is 200; success requires a data field.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

const (
	tracerName      = "avadispatch/transport/graphql"
	endpointPath    = "/graphql"
	mutationKeyword = "mutation"

	defaultMaxResponseSize = 10 << 20
)

// ErrMissingData is returned when a reply has neither errors nor data.
var ErrMissingData = errors.New("graphql response has no data")

// ErrMalformedRequest is returned when the inbound body is not a GraphQL
// request.
var ErrMalformedRequest = fmt.Errorf("malformed GraphQL request: %w", transport.ErrInvalidRequest)

// Request is the wire payload.
type Request struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	OperationName string          `json:"operationName,omitempty"`
}

// ParseRequest decodes a gateway body into a Request. The query must be a
// non-empty string.
func ParseRequest(body json.RawMessage) (*Request, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrMalformedRequest)
	}
	return &req, nil
}

// IsMutation reports whether query is a mutation.
func IsMutation(query string) bool {
	q := strings.TrimSpace(query)
	return len(q) >= len(mutationKeyword) && strings.EqualFold(q[:len(mutationKeyword)], mutationKeyword)
}

// Error is one entry of a GraphQL errors list.
type Error struct {
	Message string          `json:"message"`
	Path    json.RawMessage `json:"path,omitempty"`
}

// ResponseError is a reply whose errors list was non-empty.
type ResponseError struct {
	Errors []Error
}

// Error joins every message.
func (e *ResponseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Message)
	}
	return "graphql errors: " + strings.Join(msgs, "; ")
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

// Client is the GraphQL transport.
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

// New creates a GraphQL transport.
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

// Invoke parses call.Body as a GraphQL request and routes it to Query or
// Mutation. The call path is ignored; the endpoint is always /graphql.
func (c *Client) Invoke(ctx context.Context, call *transport.Call) (*transport.Result, error) {
	req, err := ParseRequest(call.Body)
	if err != nil {
		return nil, err
	}
	if IsMutation(req.Query) {
		return c.Mutation(ctx, call, req)
	}
	return c.Query(ctx, call, req)
}

// Query runs a read operation.
func (c *Client) Query(ctx context.Context, call *transport.Call, req *Request) (*transport.Result, error) {
	return c.execute(ctx, call, req, "query")
}

// Mutation runs a write operation.
func (c *Client) Mutation(ctx context.Context, call *transport.Call, req *Request) (*transport.Result, error) {
	return c.execute(ctx, call, req, "mutation")
}

func (c *Client) execute(
	ctx context.Context, call *transport.Call, gqlReq *Request, operation string,
) (*transport.Result, error) {
	target := transport.JoinURL(call.BaseURL, endpointPath)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "transport.graphql",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", call.Service),
			attribute.String("graphql.operation.type", operation),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	payload, err := json.Marshal(gqlReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode GraphQL request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	call.Headers.ApplyTo(httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	observability.InjectTraceContext(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, &transport.StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		gqlErr := &ResponseError{Errors: decoded.Errors}
		span.RecordError(gqlErr)
		span.SetStatus(codes.Error, "graphql errors")
		c.logger.Debug("GraphQL backend returned errors",
			observability.String("service", call.Service),
			observability.Int("count", len(decoded.Errors)),
		)
		return nil, gqlErr
	}
	if len(decoded.Data) == 0 || bytes.Equal(bytes.TrimSpace(decoded.Data), []byte("null")) {
		return nil, ErrMissingData
	}

	return &transport.Result{
		StatusCode: resp.StatusCode,
		Body:       decoded.Data,
		Header:     resp.Header.Clone(),
	}, nil
}
