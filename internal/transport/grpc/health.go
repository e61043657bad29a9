package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// HealthStrategy is a typed strategy for the standard grpc.health.v1
// service. It shows how a hand-written stub plugs into the gateway: only the
// Check operation is served.
type HealthStrategy struct{}

// Invoke implements Strategy.
func (HealthStrategy) Invoke(ctx context.Context, conn *grpc.ClientConn, req *Request) (json.RawMessage, error) {
	if req.Operation != "Check" {
		return nil, fmt.Errorf("%w: health service has no operation %q", ErrUnsupportedOperation, req.Operation)
	}

	in := &healthpb.HealthCheckRequest{}
	if body := bytes.TrimSpace(req.Body); len(body) > 0 {
		if err := protojson.Unmarshal(body, in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	out, err := healthpb.NewHealthClient(conn).Check(ctx, in)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(out)
}

// CheckHealth asks the backend behind conn whether service is serving. An
// empty service checks the server as a whole.
func CheckHealth(ctx context.Context, conn *grpc.ClientConn, service string) (bool, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
