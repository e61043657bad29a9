// Package middleware provides the gin middleware chain of the gateway:
// panic recovery, request IDs, access logging, CORS, inbound rate limiting
// and tracing.
package middleware
