package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryCondition decides whether an error is worth another attempt.
type RetryCondition interface {
	ShouldRetry(err error) bool
}

// ConditionFunc adapts a function to RetryCondition.
type ConditionFunc func(err error) bool

// ShouldRetry implements RetryCondition.
func (f ConditionFunc) ShouldRetry(err error) bool {
	return f(err)
}

// statusCoder is implemented by errors that carry an upstream HTTP status.
type statusCoder interface {
	UpstreamStatus() int
}

// StatusOf returns the upstream HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.UpstreamStatus(), true
	}
	return 0, false
}

// StatusCodeCondition retries on specific HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition that retries on specific HTTP status codes.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool, len(statusCodes))
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// ShouldRetry implements RetryCondition.
func (c *StatusCodeCondition) ShouldRetry(err error) bool {
	code, ok := StatusOf(err)
	return ok && c.codes[code]
}

// Retry5xxCondition retries on 5xx status codes.
type Retry5xxCondition struct{}

// RetryOn5xx creates a condition that retries on 5xx status codes.
func RetryOn5xx() *Retry5xxCondition {
	return &Retry5xxCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *Retry5xxCondition) ShouldRetry(err error) bool {
	code, ok := StatusOf(err)
	return ok && code >= 500 && code < 600
}

// ErrorTypeCondition retries on specific errors.
type ErrorTypeCondition struct {
	errors []error
}

// RetryOnErrors creates a condition that retries on specific errors.
func RetryOnErrors(errs ...error) *ErrorTypeCondition {
	return &ErrorTypeCondition{errors: errs}
}

// ShouldRetry implements RetryCondition.
func (c *ErrorTypeCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range c.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NetworkErrorCondition retries on transport-level failures.
type NetworkErrorCondition struct{}

// RetryOnNetworkErrors creates a condition that retries on network errors.
func RetryOnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *NetworkErrorCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// GRPCStatusCondition retries on specific gRPC status codes.
type GRPCStatusCondition struct {
	codes map[codes.Code]bool
}

// RetryOnGRPCCodes creates a condition that retries on specific gRPC status codes.
func RetryOnGRPCCodes(grpcCodes ...codes.Code) *GRPCStatusCondition {
	codeMap := make(map[codes.Code]bool, len(grpcCodes))
	for _, code := range grpcCodes {
		codeMap[code] = true
	}
	return &GRPCStatusCondition{codes: codeMap}
}

// ShouldRetry implements RetryCondition.
func (c *GRPCStatusCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return c.codes[st.Code()]
}

// TimeoutCondition retries on timeout errors.
type TimeoutCondition struct{}

// RetryOnTimeout creates a condition that retries on timeout errors.
func RetryOnTimeout() *TimeoutCondition {
	return &TimeoutCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *TimeoutCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	st, ok := status.FromError(err)
	return ok && st.Code() == codes.DeadlineExceeded
}

// CompositeCondition combines multiple conditions with OR logic.
type CompositeCondition struct {
	conditions []RetryCondition
}

// RetryOnAny creates a condition that retries if any of the conditions match.
func RetryOnAny(conditions ...RetryCondition) *CompositeCondition {
	return &CompositeCondition{conditions: conditions}
}

// ShouldRetry implements RetryCondition.
func (c *CompositeCondition) ShouldRetry(err error) bool {
	for _, condition := range c.conditions {
		if condition.ShouldRetry(err) {
			return true
		}
	}
	return false
}

// ExceptCondition vetoes another condition for specific errors.
type ExceptCondition struct {
	condition RetryCondition
	except    []error
}

// Except wraps condition so that errors matching any of except are never
// retried.
func Except(condition RetryCondition, except ...error) *ExceptCondition {
	return &ExceptCondition{condition: condition, except: except}
}

// ShouldRetry implements RetryCondition.
func (c *ExceptCondition) ShouldRetry(err error) bool {
	for _, target := range c.except {
		if errors.Is(err, target) {
			return false
		}
	}
	return c.condition.ShouldRetry(err)
}

// NeverRetryCondition never retries.
type NeverRetryCondition struct{}

// NeverRetry creates a condition that never retries.
func NeverRetry() *NeverRetryCondition {
	return &NeverRetryCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *NeverRetryCondition) ShouldRetry(error) bool {
	return false
}
