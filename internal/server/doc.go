// Package server exposes the gateway over HTTP with gin.
//
// Routes:
//
//	GET|POST|PUT|DELETE /gateway/:service/*path  forward to a backend
//	GET /health                                  liveness
//	GET /ready                                   readiness and backend probes
//	GET /metrics                                 Prometheus, path configurable
//
// Every gateway response, including errors and recovered panics, is an
// envelope whose statusCode equals the HTTP status.
package server
