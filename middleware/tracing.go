package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/salvage/job"
)

// tracerName is the instrumentation scope name for salvage tracing.
const tracerName = "github.com/xraph/salvage"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used.
//
// Span attributes: salvage.job.id, salvage.job.name, salvage.retry_count,
// salvage.correlation_id. On error, the span status is codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "salvage.job.execute",
			trace.WithAttributes(
				attribute.String("salvage.job.id", j.ID),
				attribute.String("salvage.job.name", j.Name),
				attribute.Int("salvage.retry_count", j.RetryCount),
				attribute.String("salvage.correlation_id", j.CorrelationID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
