package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Supported request methods.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodDelete = http.MethodDelete
)

// ValidMethod reports whether method is one the gateway forwards.
func ValidMethod(method string) bool {
	switch method {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// Call is one outbound request to a backend.
type Call struct {
	// Service is the logical service name, used for logging and strategies.
	Service string
	// BaseURL is the backend base address without a trailing slash.
	BaseURL string
	// Path is the request path relative to BaseURL, query string included.
	Path    string
	Method  string
	Body    json.RawMessage
	Headers *Headers
	// GRPCService is the default fully-qualified gRPC service name.
	GRPCService string
}

// Result is a successful backend reply.
type Result struct {
	StatusCode int
	// Body is the raw JSON payload; nil when the backend returned none.
	Body   json.RawMessage
	Header http.Header
}

// ErrInvalidRequest marks failures caused by the caller's payload or route
// rather than by the backend. Such failures are never retried and never
// count against a backend's circuit breaker.
var ErrInvalidRequest = errors.New("invalid request")

// Transport performs calls for one protocol.
type Transport interface {
	Invoke(ctx context.Context, call *Call) (*Result, error)
}

// StatusError is a non-2xx reply from an HTTP backend.
type StatusError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// UpstreamStatus returns the backend status code.
func (e *StatusError) UpstreamStatus() int {
	return e.StatusCode
}

// JoinURL joins a base address and a request path with exactly one slash.
func JoinURL(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// NewHTTPClient returns the pooled client shared by the HTTP adapters.
// Per-call deadlines come from the context, so the client has no timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}
