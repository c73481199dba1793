package ext

import (
	"context"
	"log/slog"
	"time"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type retryScheduledEntry struct {
	name string
	hook RetryScheduled
}

type deadLetteredEntry struct {
	name string
	hook DeadLettered
}

type evictedEntry struct {
	name string
	hook Evicted
}

type recoveredEntry struct {
	name string
	hook Recovered
}

type purgedEntry struct {
	name string
	hook Purged
}

// Registry holds registered extensions and dispatches events to them. It
// type-caches extensions at registration time so emit calls iterate only
// over extensions that implement the relevant hook.
//
// Register all extensions before the registry is shared; emits are safe
// for concurrent use afterwards.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobCompleted   []jobCompletedEntry
	jobFailed      []jobFailedEntry
	retryScheduled []retryScheduledEntry
	deadLettered   []deadLetteredEntry
	evicted        []evictedEntry
	recovered      []recoveredEntry
	purged         []purgedEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(RetryScheduled); ok {
		r.retryScheduled = append(r.retryScheduled, retryScheduledEntry{name, h})
	}
	if h, ok := e.(DeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, h})
	}
	if h, ok := e.(Evicted); ok {
		r.evicted = append(r.evicted, evictedEntry{name, h})
	}
	if h, ok := e.(Recovered); ok {
		r.recovered = append(r.recovered, recoveredEntry{name, h})
	}
	if h, ok := e.(Purged); ok {
		r.purged = append(r.purged, purgedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, jobID, jobName string, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, jobID, jobName, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, jobID, jobName string, retryCount int, jobErr error) {
	if r == nil {
		return
	}
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, jobID, jobName, retryCount, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Failure event emitters
// ──────────────────────────────────────────────────

// EmitRetryScheduled notifies all extensions that implement RetryScheduled.
func (r *Registry) EmitRetryScheduled(ctx context.Context, jobID, jobName, policy string, retryCount int, delay time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.retryScheduled {
		if err := e.hook.OnRetryScheduled(ctx, jobID, jobName, policy, retryCount, delay); err != nil {
			r.logHookError("OnRetryScheduled", e.name, err)
		}
	}
}

// EmitDeadLettered notifies all extensions that implement DeadLettered.
func (r *Registry) EmitDeadLettered(ctx context.Context, jobID, jobName, exceptionType string, critical bool) {
	if r == nil {
		return
	}
	for _, e := range r.deadLettered {
		if err := e.hook.OnDeadLettered(ctx, jobID, jobName, exceptionType, critical); err != nil {
			r.logHookError("OnDeadLettered", e.name, err)
		}
	}
}

// EmitEvicted notifies all extensions that implement Evicted.
func (r *Registry) EmitEvicted(ctx context.Context, jobIDs []string) {
	if r == nil || len(jobIDs) == 0 {
		return
	}
	for _, e := range r.evicted {
		if err := e.hook.OnEvicted(ctx, jobIDs); err != nil {
			r.logHookError("OnEvicted", e.name, err)
		}
	}
}

// EmitRecovered notifies all extensions that implement Recovered.
func (r *Registry) EmitRecovered(ctx context.Context, jobID, jobName, newJobID string) {
	if r == nil {
		return
	}
	for _, e := range r.recovered {
		if err := e.hook.OnRecovered(ctx, jobID, jobName, newJobID); err != nil {
			r.logHookError("OnRecovered", e.name, err)
		}
	}
}

// EmitPurged notifies all extensions that implement Purged.
func (r *Registry) EmitPurged(ctx context.Context, removed int) {
	if r == nil {
		return
	}
	for _, e := range r.purged {
		if err := e.hook.OnPurged(ctx, removed); err != nil {
			r.logHookError("OnPurged", e.name, err)
		}
	}
}

// logHookError logs a warning when a hook returns an error. Hook errors
// are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
