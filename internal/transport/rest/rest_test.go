package rest

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

type recorded struct {
	method string
	path   string
	body   string
	header http.Header
}

func newBackend(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.method = r.Method
		rec.path = r.URL.RequestURI()
		rec.body = string(b)
		rec.header = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestInvoke_Verbs(t *testing.T) {
	tests := []struct {
		method   string
		body     string
		wantBody string
	}{
		{method: http.MethodGet, body: `{"ignored":true}`, wantBody: ""},
		{method: http.MethodPost, body: `{"name":"widget"}`, wantBody: `{"name":"widget"}`},
		{method: http.MethodPut, body: `{"name":"gadget"}`, wantBody: `{"name":"gadget"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			srv, rec := newBackend(t, http.StatusOK, `{"id":1}`)

			res, err := New().Invoke(context.Background(), &transport.Call{
				Service: "orders",
				BaseURL: srv.URL,
				Path:    "/orders/1?expand=items",
				Method:  tt.method,
				Body:    json.RawMessage(tt.body),
			})
			require.NoError(t, err)

			assert.Equal(t, tt.method, rec.method)
			assert.Equal(t, "/orders/1?expand=items", rec.path)
			assert.Equal(t, tt.wantBody, rec.body)
			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.JSONEq(t, `{"id":1}`, string(res.Body))
		})
	}
}

func TestInvoke_DeleteHasNoPayload(t *testing.T) {
	srv, rec := newBackend(t, http.StatusNoContent, "")

	res, err := New().Invoke(context.Background(), &transport.Call{
		Service: "orders",
		BaseURL: srv.URL,
		Path:    "/orders/1",
		Method:  http.MethodDelete,
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Nil(t, res.Body)
}

func TestInvoke_ForwardsHeaders(t *testing.T) {
	srv, rec := newBackend(t, http.StatusOK, `{}`)

	h := transport.NewHeaders()
	h.Set("X-Tenant", "acme")
	h.Set("Connection", "close")

	_, err := New().Invoke(context.Background(), &transport.Call{
		BaseURL: srv.URL,
		Path:    "/",
		Method:  http.MethodGet,
		Headers: h,
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.header.Get("X-Tenant"))
	assert.Equal(t, "application/json", rec.header.Get("Accept"))
}

func TestInvoke_GzipBackendWithCallerAcceptEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Accept-Encoding") != "gzip" {
			_, _ = w.Write([]byte(`{"id":42}`))
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"id":42}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	h := transport.NewHeaders()
	h.Set("Accept-Encoding", "gzip, br")

	res, err := New().Invoke(context.Background(), &transport.Call{
		BaseURL: srv.URL,
		Path:    "/items/42",
		Method:  http.MethodGet,
		Headers: h,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42}`, string(res.Body))
}

func TestInvoke_NonSuccessStatus(t *testing.T) {
	srv, _ := newBackend(t, http.StatusNotFound, `{"error":"no such order"}`)

	_, err := New().Invoke(context.Background(), &transport.Call{
		BaseURL: srv.URL,
		Path:    "/orders/404",
		Method:  http.MethodGet,
	})
	require.Error(t, err)

	var statusErr *transport.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, string(statusErr.Body), "no such order")
}

func TestInvoke_NonJSONPayload(t *testing.T) {
	srv, _ := newBackend(t, http.StatusOK, `<html></html>`)

	_, err := New().Invoke(context.Background(), &transport.Call{
		Service: "orders",
		BaseURL: srv.URL,
		Path:    "/",
		Method:  http.MethodGet,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-JSON")
}

func TestInvoke_UnsupportedMethod(t *testing.T) {
	_, err := New().Invoke(context.Background(), &transport.Call{
		BaseURL: "http://unused",
		Method:  http.MethodPatch,
	})
	assert.Error(t, err)
}

func TestInvoke_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Invoke(ctx, &transport.Call{
		BaseURL: srv.URL,
		Path:    "/slow",
		Method:  http.MethodGet,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
