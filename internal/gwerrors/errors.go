// Package gwerrors defines the gateway error taxonomy and the single
// translation point from arbitrary errors to it.
//
// Every failure that leaves the dispatcher is an *Error carrying one of a
// closed set of kinds. Each kind maps to exactly one HTTP status code.
// Errors already of this type are never reclassified, so a kind chosen deep
// inside a transport survives the resilience layer unchanged.
package gwerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of gateway failure kinds.
type Kind int

const (
	// KindInternal is the defensive fallback for unclassified failures.
	KindInternal Kind = iota
	// KindServiceNotFound means the service name is absent from the registry.
	KindServiceNotFound
	// KindInvalidProtocol means the resolved protocol cannot be served.
	KindInvalidProtocol
	// KindTimeout means the outbound call exceeded its deadline.
	KindTimeout
	// KindCanceled means the caller gave up before the call finished.
	KindCanceled
	// KindServiceUnavailable means the backend could not be reached or failed.
	KindServiceUnavailable
)

// StatusClientClosedRequest is the non-standard status used for caller
// cancellations.
const StatusClientClosedRequest = 499

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindServiceNotFound:
		return "ServiceNotFound"
	case KindInvalidProtocol:
		return "InvalidProtocol"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "Internal"
	}
}

// StatusCode returns the HTTP status for the kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindServiceNotFound:
		return http.StatusNotFound
	case KindInvalidProtocol:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindCanceled:
		return StatusClientClosedRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Service string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// StatusCode returns the HTTP status for the error.
func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

// Sentinel values for errors.Is comparisons against a kind.
var (
	ErrServiceNotFound    = &Error{Kind: KindServiceNotFound, Message: "service not found"}
	ErrInvalidProtocol    = &Error{Kind: KindInvalidProtocol, Message: "invalid protocol"}
	ErrTimeout            = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrCanceled           = &Error{Kind: KindCanceled, Message: "canceled"}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable, Message: "service unavailable"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal error"}
)

// ServiceNotFound creates a ServiceNotFound error.
func ServiceNotFound(service string) *Error {
	return &Error{
		Kind:    KindServiceNotFound,
		Service: service,
		Message: fmt.Sprintf("Service '%s' is not found", service),
	}
}

// InvalidProtocol creates an InvalidProtocol error.
func InvalidProtocol(service, protocol string, cause error) *Error {
	return &Error{
		Kind:    KindInvalidProtocol,
		Service: service,
		Message: fmt.Sprintf("Protocol '%s' is not supported by '%s'", protocol, service),
		Cause:   cause,
	}
}

// Timeout creates a Timeout error.
func Timeout(service string, cause error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Service: service,
		Message: fmt.Sprintf("Service '%s' timed out", service),
		Cause:   cause,
	}
}

// Canceled creates a Canceled error.
func Canceled(service string, cause error) *Error {
	return &Error{
		Kind:    KindCanceled,
		Service: service,
		Message: fmt.Sprintf("Request to service '%s' was canceled", service),
		Cause:   cause,
	}
}

// ServiceUnavailable creates a ServiceUnavailable error.
func ServiceUnavailable(service string, cause error) *Error {
	return &Error{
		Kind:    KindServiceUnavailable,
		Service: service,
		Message: fmt.Sprintf("Service '%s' is currently not available", service),
		Cause:   cause,
	}
}

// Internal creates an Internal error.
func Internal(message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: message,
		Cause:   cause,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	if gwErr, ok := As(err); ok {
		return gwErr.Kind
	}
	return KindInternal
}

// Classify converts a transport-side failure for service into the
// taxonomy. Typed errors pass through untouched; context deadline and
// cancellation keep their own kinds; everything else is ServiceUnavailable.
func Classify(service string, err error) *Error {
	if err == nil {
		return nil
	}
	if gwErr, ok := As(err); ok {
		return gwErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(service, err)
	case errors.Is(err, context.Canceled):
		return Canceled(service, err)
	default:
		return ServiceUnavailable(service, err)
	}
}

// From converts any error reaching the outer boundary into an *Error.
// Unclassified errors become Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if gwErr, ok := As(err); ok {
		return gwErr
	}
	return Internal("An unexpected error occurred", err)
}
