// Package health reports gateway liveness and backend readiness.
//
// A Checker aggregates results; a Prober feeds it by periodically calling
// every registered backend. HTTP backends are probed with a GET of their
// health check path, gRPC-only backends with the standard grpc.health.v1
// service over the pooled connection.
//
//	checker := health.NewChecker(version, logger)
//	prober := health.NewProber(checker, services, health.WithInterval(30*time.Second))
//	go prober.Run(ctx)
//
//	router.GET("/health", gin.WrapF(checker.HealthHandler()))
//	router.GET("/ready", gin.WrapF(checker.ReadinessHandler()))
package health
