// Package observability provides extensions that turn salvage lifecycle
// hooks into metrics. MetricsExtension records OpenTelemetry counters;
// PrometheusExtension exports the same events as Prometheus collectors.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
