package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/registry"
	grpctransport "github.com/vyrodovalexey/avadispatch/internal/transport/grpc"
)

func mustDefinition(t *testing.T, name string, cfg config.ServiceConfig) *registry.ServiceDefinition {
	t.Helper()
	def, err := registry.NewServiceDefinition(name, cfg)
	require.NoError(t, err)
	return def
}

func TestProber_HTTP(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	reg := registry.New(
		mustDefinition(t, "orders", config.ServiceConfig{BaseURL: healthy.URL, HealthCheckPath: "/status"}),
		mustDefinition(t, "users", config.ServiceConfig{BaseURL: failing.URL}),
	)

	metrics := observability.NewMetrics("probe")
	checker := NewChecker("test", nil)
	prober := NewProber(checker, reg, WithMetrics(metrics), WithTimeout(2*time.Second))

	prober.ProbeAll(context.Background())

	orders, ok := checker.Backend("orders")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, orders.Status)
	assert.NotEmpty(t, orders.Latency)

	users, ok := checker.Backend("users")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, users.Status)
	assert.Contains(t, users.Message, "500")

	assert.Equal(t, StatusDegraded, checker.Readiness().Status)

	expected := `
# HELP probe_backend_health Backend health probe result (1=healthy, 0=unhealthy)
# TYPE probe_backend_health gauge
probe_backend_health{service="orders"} 1
probe_backend_health{service="users"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(),
		strings.NewReader(expected), "probe_backend_health"))
}

func TestProber_UnreachableBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	reg := registry.New(mustDefinition(t, "gone", config.ServiceConfig{BaseURL: addr}))
	checker := NewChecker("test", nil)

	check := NewProber(checker, reg).Probe(context.Background(), reg.All()[0])

	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "failed to connect")
}

func TestProber_DropsRemovedServices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(mustDefinition(t, "orders", config.ServiceConfig{BaseURL: srv.URL}))
	checker := NewChecker("test", nil)
	checker.SetBackend("legacy", Check{Status: StatusUnhealthy})

	NewProber(checker, reg).ProbeAll(context.Background())

	assert.Equal(t, []string{"orders"}, checker.Backends())
}

func TestProber_GRPC(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	hs.SetServingStatus("inventory.v1.Inventory", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("billing.v1.Billing", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()

	pool := grpctransport.NewConnectionPool(grpctransport.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	t.Cleanup(func() {
		_ = pool.Close()
		srv.Stop()
	})

	reg := registry.New(
		mustDefinition(t, "inventory", config.ServiceConfig{
			BaseURL: "http://localhost:50051", Protocols: []string{"gRPC"}, GRPCService: "inventory.v1.Inventory",
		}),
		mustDefinition(t, "billing", config.ServiceConfig{
			BaseURL: "http://localhost:50051", Protocols: []string{"gRPC"}, GRPCService: "billing.v1.Billing",
		}),
	)

	checker := NewChecker("test", nil)
	NewProber(checker, reg, WithPool(pool)).ProbeAll(context.Background())

	inventory, _ := checker.Backend("inventory")
	assert.Equal(t, StatusHealthy, inventory.Status)

	billing, _ := checker.Backend("billing")
	assert.Equal(t, StatusUnhealthy, billing.Status)
	assert.Contains(t, billing.Message, "NOT_SERVING")
}

func TestProber_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewProber(NewChecker("test", nil), registry.New(), WithInterval(10*time.Millisecond)).Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prober did not stop")
	}
}
