package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/retry"
)

// Logging returns middleware that logs each attempt with the fields an
// operator needs to follow a job from failure to the dead letter queue:
// retry count, correlation and session ids, and the retry policy
// registered for the job in reg. reg may be nil.
func Logging(logger *slog.Logger, reg *job.Registry) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID),
			slog.Int("retry_count", j.RetryCount),
		}
		if j.CorrelationID != "" {
			attrs = append(attrs, slog.String("correlation_id", j.CorrelationID))
		}
		if session := j.SessionID(); session != "" {
			attrs = append(attrs, slog.String("session_id", session))
		}
		if reg != nil {
			if e, ok := reg.Get(j.Name); ok && e.Opts.Policy != "" {
				attrs = append(attrs, slog.String("policy", e.Opts.Policy))
			}
		}
		log := logger.With(attrs...)

		if j.RetryCount > 0 {
			log.Info("job retry started")
		} else {
			log.Debug("job started")
		}

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn("job attempt failed",
				slog.Duration("elapsed", elapsed),
				slog.String("exception_type", retry.TypeName(err)),
				slog.String("error", err.Error()),
			)
			return err
		}
		log.Info("job completed", slog.Duration("elapsed", elapsed))
		return nil
	}
}
