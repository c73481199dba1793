package middleware

import (
	"context"

	"github.com/xraph/salvage/job"
)

// Handler runs one attempt of a job. Its error is what the failure
// orchestrator classifies.
type Handler func(ctx context.Context) error

// Middleware wraps an attempt. It must call next unless it fails the
// attempt itself, and it should return next's error unchanged so the
// retry policy sees the handler's own error type.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware, outermost first. An empty chain
// calls next directly.
func Chain(mws ...Middleware) Middleware {
	if len(mws) == 0 {
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}
