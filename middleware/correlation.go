package middleware

import (
	"context"

	"github.com/xraph/salvage/job"
)

type correlationKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok && id != ""
}

// Correlation returns middleware that places the job's correlation id in
// the handler context so downstream submissions can propagate it.
func Correlation() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.CorrelationID != "" {
			ctx = WithCorrelationID(ctx, j.CorrelationID)
		}
		return next(ctx)
	}
}
