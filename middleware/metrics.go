package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/salvage/job"
)

// meterName is the instrumentation scope name for salvage metrics.
const meterName = "github.com/xraph/salvage"

// Metrics returns middleware that records per-job execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - salvage.job.duration (Float64Histogram): execution time in seconds,
//     with attributes job_name and status ("ok" or "error")
//   - salvage.job.executions (Int64Counter): total executions, with
//     attributes job_name, status, and retried ("true" for retry attempts)
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"salvage.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"salvage.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("status", status),
		))
		executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("status", status),
			attribute.Bool("retried", j.RetryCount > 0),
		))

		return err
	}
}
