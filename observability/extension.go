package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/salvage/ext"
)

// meterName is the instrumentation scope name for salvage metrics.
const meterName = "github.com/xraph/salvage/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.RetryScheduled = (*MetricsExtension)(nil)
	_ ext.DeadLettered   = (*MetricsExtension)(nil)
	_ ext.Evicted        = (*MetricsExtension)(nil)
	_ ext.Recovered      = (*MetricsExtension)(nil)
	_ ext.Purged         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters on an OTel
// meter. Register it with an ext.Registry to track completions,
// failures, retries, dead letters, evictions, recoveries, and purges.
type MetricsExtension struct {
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	evicted      metric.Int64Counter
	recovered    metric.Int64Counter
	purged       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		completed:    counter("salvage.job.completed", "Jobs that finished successfully"),
		failed:       counter("salvage.job.failed", "Job executions that failed"),
		retried:      counter("salvage.job.retried", "Failed jobs re-enqueued for retry"),
		deadLettered: counter("salvage.dlq.recorded", "Failures recorded in the dead letter queue"),
		evicted:      counter("salvage.dlq.evicted", "Records evicted to keep the queue bounded"),
		recovered:    counter("salvage.dlq.recovered", "Dead-lettered jobs re-dispatched by an operator"),
		purged:       counter("salvage.dlq.purged", "Records removed by purge"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Execution hooks ─────────────────────────────────

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _, jobName string, _ time.Duration) error {
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("job_name", jobName)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _, jobName string, _ int, _ error) error {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("job_name", jobName)))
	return nil
}

// ── Failure hooks ───────────────────────────────────

// OnRetryScheduled implements ext.RetryScheduled.
func (m *MetricsExtension) OnRetryScheduled(ctx context.Context, _, jobName, policy string, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", jobName),
		attribute.String("policy", policy),
	))
	return nil
}

// OnDeadLettered implements ext.DeadLettered.
func (m *MetricsExtension) OnDeadLettered(ctx context.Context, _, jobName, exceptionType string, critical bool) error {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", jobName),
		attribute.String("exception_type", exceptionType),
		attribute.Bool("critical", critical),
	))
	return nil
}

// OnEvicted implements ext.Evicted.
func (m *MetricsExtension) OnEvicted(ctx context.Context, jobIDs []string) error {
	m.evicted.Add(ctx, int64(len(jobIDs)))
	return nil
}

// OnRecovered implements ext.Recovered.
func (m *MetricsExtension) OnRecovered(ctx context.Context, _, jobName, _ string) error {
	m.recovered.Add(ctx, 1, metric.WithAttributes(attribute.String("job_name", jobName)))
	return nil
}

// OnPurged implements ext.Purged.
func (m *MetricsExtension) OnPurged(ctx context.Context, removed int) error {
	m.purged.Add(ctx, int64(removed))
	return nil
}
