package gwerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_StatusCode(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		name   string
	}{
		{KindServiceNotFound, http.StatusNotFound, "ServiceNotFound"},
		{KindInvalidProtocol, http.StatusBadRequest, "InvalidProtocol"},
		{KindTimeout, http.StatusRequestTimeout, "Timeout"},
		{KindCanceled, StatusClientClosedRequest, "Canceled"},
		{KindServiceUnavailable, http.StatusServiceUnavailable, "ServiceUnavailable"},
		{KindInternal, http.StatusInternalServerError, "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.StatusCode())
			assert.Equal(t, tt.name, tt.kind.String())
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	assert.Equal(t, "Service 'orders' is not found", ServiceNotFound("orders").Error())
	assert.Equal(t, "Protocol 'gRPC' is not supported by 'orders'", InvalidProtocol("orders", "gRPC", nil).Error())
	assert.Equal(t, "Service 'orders' timed out", Timeout("orders", nil).Error())

	unavailable := ServiceUnavailable("orders", cause)
	assert.Equal(t, "Service 'orders' is currently not available: dial tcp: connection refused", unavailable.Error())
	assert.Equal(t, "Service 'orders' is currently not available", unavailable.Message)
	assert.ErrorIs(t, unavailable, cause)
	assert.Equal(t, http.StatusServiceUnavailable, unavailable.StatusCode())
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Timeout("orders", context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
}

func TestClassify(t *testing.T) {
	typed := InvalidProtocol("orders", "gRPC", nil)

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "typed error passes through", err: fmt.Errorf("ctx: %w", typed), kind: KindInvalidProtocol},
		{name: "deadline becomes timeout", err: fmt.Errorf("call: %w", context.DeadlineExceeded), kind: KindTimeout},
		{name: "cancel stays distinct", err: context.Canceled, kind: KindCanceled},
		{name: "anything else is unavailable", err: errors.New("boom"), kind: KindServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("orders", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
		})
	}

	assert.Nil(t, Classify("orders", nil))
	assert.Same(t, typed, Classify("orders", typed))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	notFound := ServiceNotFound("x")
	assert.Same(t, notFound, From(notFound))

	internal := From(errors.New("nil map"))
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, http.StatusInternalServerError, internal.StatusCode())

	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
	assert.Equal(t, KindServiceNotFound, KindOf(notFound))
}
