package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

// ErrUnsupportedOperation is returned when no strategy can serve a call.
var ErrUnsupportedOperation = fmt.Errorf("unsupported gRPC operation: %w", transport.ErrInvalidRequest)

// Request is what a Strategy receives.
type Request struct {
	// Service is the gateway service name.
	Service string
	// GRPCService is the fully-qualified gRPC service name configured for
	// the backend. It may be empty.
	GRPCService string
	// Path is the gateway path, e.g. /api/orders.v1.OrderService/GetOrder.
	Path string
	// Operation is the last path segment, e.g. GetOrder.
	Operation string
	Body      json.RawMessage
	Metadata  metadata.MD
}

// Strategy performs one unary call on conn and returns the reply as JSON.
type Strategy interface {
	Invoke(ctx context.Context, conn *grpc.ClientConn, req *Request) (json.RawMessage, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, conn *grpc.ClientConn, req *Request) (json.RawMessage, error)

// Invoke implements Strategy.
func (f StrategyFunc) Invoke(ctx context.Context, conn *grpc.ClientConn, req *Request) (json.RawMessage, error) {
	return f(ctx, conn, req)
}

// Strategies maps gateway service names to call strategies.
type Strategies struct {
	mu       sync.RWMutex
	byName   map[string]Strategy
	fallback Strategy
}

// NewStrategies returns an empty set.
func NewStrategies() *Strategies {
	return &Strategies{byName: make(map[string]Strategy)}
}

// Register sets the strategy for key, replacing any previous one. key is a
// gateway service name or a fully-qualified gRPC service name.
func (s *Strategies) Register(service string, strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[service] = strategy
}

// SetFallback sets the strategy used for services without their own.
// A nil fallback disables it.
func (s *Strategies) SetFallback(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = strategy
}

// Lookup returns the strategy registered under the first matching key,
// else the fallback. Empty keys are skipped.
func (s *Strategies) Lookup(keys ...string) (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		if st, ok := s.byName[key]; ok {
			return st, true
		}
	}
	if s.fallback != nil {
		return s.fallback, true
	}
	return nil, false
}
