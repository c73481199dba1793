package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/salvage/job"
)

// Timeout returns middleware that bounds each attempt by the timeout
// registered for the job in reg. A handler that honours the deadline
// returns context.DeadlineExceeded, which the network and external-api
// policies treat as retryable.
func Timeout(logger *slog.Logger, reg *job.Registry) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		e, ok := reg.Get(j.Name)
		if !ok || e.Opts.Timeout <= 0 {
			return next(ctx)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.Opts.Timeout)
		defer cancel()

		err := next(attemptCtx)
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("job exceeded its timeout",
				slog.String("job_id", j.ID),
				slog.String("job_name", j.Name),
				slog.Int("retry_count", j.RetryCount),
				slog.Duration("timeout", e.Opts.Timeout),
			)
		}
		return err
	}
}
