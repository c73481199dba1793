package ext

import (
	"context"
	"time"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// JobCompleted is called after a handler finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, jobID, jobName string, elapsed time.Duration) error
}

// JobFailed is called when a handler returns an error or panics.
type JobFailed interface {
	OnJobFailed(ctx context.Context, jobID, jobName string, retryCount int, err error) error
}

// ──────────────────────────────────────────────────
// Failure hooks
// ──────────────────────────────────────────────────

// RetryScheduled is called after a failed job is re-enqueued.
type RetryScheduled interface {
	OnRetryScheduled(ctx context.Context, jobID, jobName, policy string, retryCount int, delay time.Duration) error
}

// DeadLettered is called after a failure is recorded in the dead letter
// queue.
type DeadLettered interface {
	OnDeadLettered(ctx context.Context, jobID, jobName, exceptionType string, critical bool) error
}

// Evicted is called when the oldest records are dropped to keep the
// queue within its bound.
type Evicted interface {
	OnEvicted(ctx context.Context, jobIDs []string) error
}

// Recovered is called after a dead-lettered job is re-dispatched by an
// operator. newJobID is the id of the fresh submission.
type Recovered interface {
	OnRecovered(ctx context.Context, jobID, jobName, newJobID string) error
}

// Purged is called after an operator purge removes records.
type Purged interface {
	OnPurged(ctx context.Context, removed int) error
}
