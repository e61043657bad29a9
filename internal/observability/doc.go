// Package observability provides logging, metrics, and tracing for the
// dispatch gateway.
//
// # Logging
//
// The Logger interface wraps zap and carries request-scoped fields:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.WithContext(ctx).Info("dispatching request",
//	    observability.String("service", "orders"),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry so tests can build as many
// instances as they need:
//
//	metrics := observability.NewMetrics("gateway")
//	metrics.RecordDispatch("orders", "REST", 200, elapsed)
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// Tracer configures the global OpenTelemetry provider with an optional
// OTLP gRPC exporter. When tracing is disabled the no-op provider is kept
// and spans cost nothing.
package observability
