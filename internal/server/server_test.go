package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/dispatch"
	"github.com/vyrodovalexey/avadispatch/internal/gwerrors"
	"github.com/vyrodovalexey/avadispatch/internal/health"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/protocol"
	"github.com/vyrodovalexey/avadispatch/internal/registry"
	"github.com/vyrodovalexey/avadispatch/internal/resilience"
	"github.com/vyrodovalexey/avadispatch/internal/server/middleware"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
	"github.com/vyrodovalexey/avadispatch/internal/transport/rest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDispatcher struct {
	got    dispatch.Request
	result *transport.Result
	err    error
}

func (s *stubDispatcher) Send(_ context.Context, req dispatch.Request) (*transport.Result, error) {
	s.got = req
	return s.result, s.err
}

type envelopeBody struct {
	Success      bool              `json:"success"`
	Data         json.RawMessage   `json:"data"`
	ErrorMessage *string           `json:"errorMessage"`
	StatusCode   int               `json:"statusCode"`
	Metadata     map[string]string `json:"metadata"`
}

func testServerConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.CORS.Enabled = false
	return cfg
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelopeBody
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestGateway_ForwardsRequest(t *testing.T) {
	stub := &stubDispatcher{result: &transport.Result{StatusCode: http.StatusCreated, Body: json.RawMessage(`{"id":1}`)}}
	srv := New(testServerConfig(), Options{Dispatcher: stub})

	w, env := do(t, srv.Handler(), http.MethodPost, "/gateway/users/api/users?dry=1", `{"name":"a"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusCreated, env.StatusCode)
	assert.JSONEq(t, `{"id":1}`, string(env.Data))
	assert.Nil(t, env.ErrorMessage)
	assert.NotEmpty(t, env.Metadata["requestId"])
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), env.Metadata["requestId"])

	assert.Equal(t, "users", stub.got.ServiceName)
	assert.Equal(t, "/api/users?dry=1", stub.got.Path)
	assert.Equal(t, http.MethodPost, stub.got.Method)
	assert.JSONEq(t, `{"name":"a"}`, string(stub.got.Body))
	ct, ok := stub.got.Headers.Get("Content-Type")
	assert.True(t, ok)
	assert.Equal(t, "application/json", ct)
}

func TestGateway_GetIgnoresBody(t *testing.T) {
	stub := &stubDispatcher{result: &transport.Result{StatusCode: http.StatusOK, Body: json.RawMessage(`[]`)}}
	srv := New(testServerConfig(), Options{Dispatcher: stub})

	w, env := do(t, srv.Handler(), http.MethodGet, "/gateway/users/", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "/", stub.got.Path)
	assert.Nil(t, stub.got.Body)
}

func TestGateway_DeleteReturnsNullData(t *testing.T) {
	stub := &stubDispatcher{result: &transport.Result{StatusCode: http.StatusOK, Body: json.RawMessage(`{"deleted":true}`)}}
	srv := New(testServerConfig(), Options{Dispatcher: stub})

	w, env := do(t, srv.Handler(), http.MethodDelete, "/gateway/users/api/users/1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))
}

func TestGateway_InvalidJSONBody(t *testing.T) {
	stub := &stubDispatcher{}
	srv := New(testServerConfig(), Options{Dispatcher: stub})

	w, env := do(t, srv.Handler(), http.MethodPut, "/gateway/users/api/users/1", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.ErrorMessage)
	assert.Equal(t, "Request body must be valid JSON", *env.ErrorMessage)
	assert.Empty(t, stub.got.ServiceName, "dispatcher must not be called")
}

func TestGateway_BodyTooLarge(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxBodySize = 8
	srv := New(cfg, Options{Dispatcher: &stubDispatcher{}})

	w, env := do(t, srv.Handler(), http.MethodPost, "/gateway/users/x", `{"name":"too long"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.StatusCode)
}

func TestGateway_ErrorsBecomeEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", gwerrors.ServiceNotFound("nope"), http.StatusNotFound, "Service 'nope' is not found"},
		{"invalid protocol", gwerrors.InvalidProtocol("users", "grpc", nil), http.StatusBadRequest, "Protocol 'grpc' is not supported by 'users'"},
		{"timeout", gwerrors.Timeout("users", context.DeadlineExceeded), http.StatusRequestTimeout, ""},
		{"unavailable", gwerrors.ServiceUnavailable("users", io.EOF), http.StatusServiceUnavailable, ""},
		{"canceled", gwerrors.Canceled("users", context.Canceled), gwerrors.StatusClientClosedRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(testServerConfig(), Options{Dispatcher: &stubDispatcher{err: tt.err}})

			w, env := do(t, srv.Handler(), http.MethodGet, "/gateway/users/x", "")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status, env.StatusCode)
			assert.False(t, env.Success)
			require.NotNil(t, env.ErrorMessage)
			if tt.message != "" {
				assert.Equal(t, tt.message, *env.ErrorMessage)
			}
			assert.NotEmpty(t, env.Metadata["requestId"])
		})
	}
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	srv := New(testServerConfig(), Options{Dispatcher: &stubDispatcher{}})

	w, env := do(t, srv.Handler(), http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, env.StatusCode)

	w, env = do(t, srv.Handler(), http.MethodPatch, "/gateway/users/x", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.StatusCode)
}

func TestServer_HealthAndReady(t *testing.T) {
	checker := health.NewChecker("1.2.3", nil)
	checker.SetBackend("users", health.Check{Status: health.StatusUnhealthy, Message: "down"})
	srv := New(testServerConfig(), Options{Checker: checker})

	req := httptest.NewRequest(http.MethodGet, HealthPath, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, ReadyPath, nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var ready health.ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, health.StatusDegraded, ready.Status)
	assert.Equal(t, health.StatusUnhealthy, ready.Backends["users"].Status)
}

func TestServer_Metrics(t *testing.T) {
	m := observability.NewMetrics("srvtest")
	m.RecordDispatch("users", "rest", http.StatusOK, time.Millisecond)
	srv := New(testServerConfig(), Options{Metrics: m, MetricsPath: "/metrics"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "srvtest_")
}

func TestServer_RateLimitSkipsProbes(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	stub := &stubDispatcher{result: &transport.Result{StatusCode: http.StatusOK}}
	srv := New(cfg, Options{Dispatcher: stub})

	w, _ := do(t, srv.Handler(), http.MethodGet, "/gateway/users/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, env := do(t, srv.Handler(), http.MethodGet, "/gateway/users/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, http.StatusTooManyRequests, env.StatusCode)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, HealthPath, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	cfg := testServerConfig()
	cfg.CORS.Enabled = true
	srv := New(cfg, Options{Dispatcher: &stubDispatcher{}})

	req := httptest.NewRequest(http.MethodOptions, "/gateway/users/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGateway_EndToEndREST(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"name":"ada"}`))
	}))
	defer backend.Close()

	reg, err := registry.LoadFromConfig(map[string]config.ServiceConfig{
		"users": {BaseURL: backend.URL, Timeout: 5, HealthCheckPath: "/health", Protocols: []string{"rest"}},
	})
	require.NoError(t, err)

	d := dispatch.New(reg,
		dispatch.WithTransport(protocol.REST, rest.New()),
		dispatch.WithPolicy(resilience.New(resilience.DefaultConfig())),
	)
	srv := New(testServerConfig(), Options{Dispatcher: d})

	w, env := do(t, srv.Handler(), http.MethodGet, "/gateway/users/api/users/7", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":7,"name":"ada"}`, string(env.Data))

	w, env = do(t, srv.Handler(), http.MethodGet, "/gateway/orders/api/orders", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.ErrorMessage)
	assert.Equal(t, "Service 'orders' is not found", *env.ErrorMessage)
}

func restGateway(t *testing.T, backend *httptest.Server) *Server {
	t.Helper()
	reg, err := registry.LoadFromConfig(map[string]config.ServiceConfig{
		"orders": {BaseURL: backend.URL, Timeout: 5, HealthCheckPath: "/health", Protocols: []string{"rest"}},
	})
	require.NoError(t, err)

	cfg := resilience.DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	d := dispatch.New(reg,
		dispatch.WithTransport(protocol.REST, rest.New()),
		dispatch.WithPolicy(resilience.New(cfg)),
	)
	return New(testServerConfig(), Options{Dispatcher: d})
}

func TestGateway_BackendNoContentStillGetsEnvelope(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()
	srv := restGateway(t, backend)

	for _, method := range []string{http.MethodDelete, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			body := ""
			if method == http.MethodPut {
				body = `{"qty":2}`
			}
			w, env := do(t, srv.Handler(), method, "/gateway/orders/items/42", body)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Body.String())
			assert.True(t, env.Success)
			assert.Equal(t, http.StatusOK, env.StatusCode)
			assert.Equal(t, "null", string(env.Data))
		})
	}
}

func TestGateway_DeleteAlwaysAnswers200(t *testing.T) {
	stub := &stubDispatcher{result: &transport.Result{StatusCode: http.StatusAccepted}}
	srv := New(testServerConfig(), Options{Dispatcher: stub})

	w, env := do(t, srv.Handler(), http.MethodDelete, "/gateway/orders/items/42", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, env.StatusCode)
}

func TestGateway_CompressingCallerAndGzipBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"id":42}`))
		_ = gz.Close()
	}))
	defer backend.Close()
	srv := restGateway(t, backend)

	req := httptest.NewRequest(http.MethodGet, "/gateway/orders/items/42", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env envelopeBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.JSONEq(t, `{"id":42}`, string(env.Data))
}

func TestServer_ServeAndStop(t *testing.T) {
	srv := New(testServerConfig(), Options{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + HealthPath)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, srv.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-errCh)
	assert.False(t, srv.IsRunning())
}
