// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for the hub.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", 3).Info("tenant resolved")
//
// FromContext returns the request logger enriched with request, user and
// tenant identifiers placed on the context by the HTTP middleware.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("allow", "role")
//
// All Record* helpers accept a nil *Metrics so library code can be wired
// without metrics in tests.
//
// # OpenTelemetry
//
// InitOTel installs global tracer and meter providers exporting over OTLP
// gRPC. NewAuthzInstruments builds the decision latency histogram used by
// rbac.Authorizer against the global meter provider.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// Redis is optional: a failing Redis degrades readiness but does not fail it.
package observability
