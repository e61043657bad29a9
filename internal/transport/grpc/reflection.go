package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

// ErrInvalidPayload is returned when the body does not fit the request
// message of the resolved method.
var ErrInvalidPayload = fmt.Errorf("invalid gRPC request payload: %w", transport.ErrInvalidRequest)

// ReflectionStrategy resolves methods through the server reflection service
// and transcodes JSON to and from protobuf with dynamic messages. Resolved
// service descriptors are cached per connection target.
//
// The gRPC service is taken from the path segment before the operation when
// it is fully qualified (/api/orders.v1.OrderService/GetOrder); otherwise
// the backend's configured grpcService is used.
type ReflectionStrategy struct {
	logger observability.Logger
	cache  sync.Map // cacheKey -> *desc.ServiceDescriptor
}

type cacheKey struct {
	target  string
	service string
}

// NewReflectionStrategy creates a reflection-driven strategy.
func NewReflectionStrategy(logger observability.Logger) *ReflectionStrategy {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ReflectionStrategy{logger: logger}
}

// Invoke implements Strategy.
func (s *ReflectionStrategy) Invoke(ctx context.Context, conn *grpc.ClientConn, req *Request) (json.RawMessage, error) {
	serviceName := ServiceName(req.Path, req.GRPCService)
	if serviceName == "" {
		return nil, fmt.Errorf("%w: no gRPC service for %q", ErrUnsupportedOperation, req.Path)
	}

	sd, err := s.resolveService(ctx, conn, serviceName)
	if err != nil {
		return nil, err
	}

	md := sd.FindMethodByName(req.Operation)
	if md == nil {
		return nil, fmt.Errorf("%w: method %s not found in %s", ErrUnsupportedOperation, req.Operation, serviceName)
	}
	if md.IsClientStreaming() || md.IsServerStreaming() {
		return nil, fmt.Errorf("%w: %s is a streaming method", ErrUnsupportedOperation, md.GetFullyQualifiedName())
	}

	reqMsg := dynamic.NewMessage(md.GetInputType())
	if body := bytes.TrimSpace(req.Body); len(body) > 0 {
		if err := reqMsg.UnmarshalJSON(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	stub := grpcdynamic.NewStub(conn)
	respMsg, err := stub.InvokeRpc(ctx, md, reqMsg)
	if err != nil {
		return nil, err
	}

	dm, err := dynamic.AsDynamicMessage(respMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s: %w", md.GetFullyQualifiedName(), err)
	}
	out, err := dm.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to format response of %s: %w", md.GetFullyQualifiedName(), err)
	}
	return out, nil
}

func (s *ReflectionStrategy) resolveService(
	ctx context.Context, conn *grpc.ClientConn, serviceName string,
) (*desc.ServiceDescriptor, error) {
	key := cacheKey{target: conn.Target(), service: serviceName}
	if cached, ok := s.cache.Load(key); ok {
		return cached.(*desc.ServiceDescriptor), nil
	}

	refClient := grpcreflect.NewClientAuto(ctx, conn)
	defer refClient.Reset()
	refClient.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)
	refClient.AllowMissingFileDescriptors()

	sd, err := refClient.ResolveService(serviceName)
	if err != nil {
		if grpcreflect.IsElementNotFoundError(err) {
			return nil, fmt.Errorf("%w: service %s not exposed by backend", ErrUnsupportedOperation, serviceName)
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.Unimplemented {
			return nil, fmt.Errorf("%w: backend does not support reflection", ErrUnsupportedOperation)
		}
		return nil, err
	}

	s.logger.Debug("resolved gRPC service via reflection",
		observability.String("service", serviceName),
		observability.Int("methods", len(sd.GetMethods())),
	)
	s.cache.Store(key, sd)
	return sd, nil
}

// Forget drops cached descriptors, e.g. after a backend redeploy.
func (s *ReflectionStrategy) Forget() {
	s.cache.Range(func(k, _ any) bool {
		s.cache.Delete(k)
		return true
	})
}

// ServiceName picks the gRPC service for path: the segment before the
// operation when it contains a dot, else fallback.
func ServiceName(path, fallback string) string {
	segments := strings.Split(strings.Trim(stripQuery(path), "/"), "/")
	if len(segments) >= 2 {
		if candidate := segments[len(segments)-2]; strings.Contains(candidate, ".") {
			return candidate
		}
	}
	return fallback
}
