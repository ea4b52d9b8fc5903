// Package observability bundles the operational concerns shared by the
// chronicle binaries: structured JSON logging over slog, Prometheus
// metrics, OpenTelemetry tracing, health probes and graceful shutdown.
//
// Loggers are immutable; WithField and friends return annotated copies,
// and FromContext threads the request id through handler logs. Metrics
// are registered once per process on a private registry exposed by
// Handler. InitOTel wires an OTLP trace exporter when enabled and is a
// no-op otherwise.
package observability
