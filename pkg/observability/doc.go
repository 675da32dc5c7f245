// Package observability provides logrus logging setup, Prometheus metrics for
// the storage layer, health checks and OpenTelemetry tracing.
//
// # Logging
//
//	log := observability.NewLogger("info", os.Stderr)
//	log.WithField("key", "gameStats").Warn("corrupt record ignored")
//
// # Metrics
//
// Metrics methods are safe to call on a nil *Metrics, so components accept an
// optional metrics value without guarding every call site:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CacheHit()
//
// When OpenTelemetry is enabled the storage, migration and backup counters
// are also recorded on the installed meter provider:
//
//	providers, _ := observability.InitOTel(ctx, cfg, log)
//	om, _ := observability.NewOTelMetrics(providers.MeterProvider)
//	metrics.WithOTel(om)
//
// # Tracing
//
// Tracer returns the package tracer from the global provider. InitOTel
// installs OTLP/gRPC trace and metric exporters when enabled; otherwise spans are no-ops.
//
//	ctx, span := observability.Tracer().Start(ctx, "migration.MigrateIfNeeded")
//	defer span.End()
//
// # Health
//
// HealthChecker runs named dependency checks and serves liveness/readiness
// handlers for the daemon's admin router.
package observability
