package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/salvage/ext"
)

var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.RetryScheduled = (*Extension)(nil)
	_ ext.DeadLettered   = (*Extension)(nil)
	_ ext.Evicted        = (*Extension)(nil)
	_ ext.Recovered      = (*Extension)(nil)
	_ ext.Purged         = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension turns lifecycle hooks into audit events. Recorder errors are
// logged and never returned, so auditing cannot disturb job handling.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all
	jobs     map[string]bool // nil = all
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Execution hooks ─────────────────────────────────

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, jobID, jobName string, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, jobID, CategoryJob, nil,
		"job_name", jobName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, jobID, jobName string, retryCount int, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityWarning, OutcomeFailure,
		ResourceJob, jobID, CategoryJob, jobErr,
		"job_name", jobName,
		"retry_count", retryCount,
	)
}

// ── Failure hooks ───────────────────────────────────

// OnRetryScheduled implements ext.RetryScheduled.
func (e *Extension) OnRetryScheduled(ctx context.Context, jobID, jobName, policy string, retryCount int, delay time.Duration) error {
	return e.record(ctx, ActionRetryScheduled, SeverityWarning, OutcomeFailure,
		ResourceJob, jobID, CategoryJob, nil,
		"job_name", jobName,
		"policy", policy,
		"retry_count", retryCount,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnDeadLettered implements ext.DeadLettered.
func (e *Extension) OnDeadLettered(ctx context.Context, jobID, jobName, exceptionType string, critical bool) error {
	severity := SeverityWarning
	if critical {
		severity = SeverityCritical
	}
	return e.record(ctx, ActionDLQRecorded, severity, OutcomeFailure,
		ResourceRecord, jobID, CategoryDLQ, nil,
		"job_name", jobName,
		"exception_type", exceptionType,
		"critical", critical,
	)
}

// OnEvicted implements ext.Evicted.
func (e *Extension) OnEvicted(ctx context.Context, jobIDs []string) error {
	return e.record(ctx, ActionDLQEvicted, SeverityWarning, OutcomeSuccess,
		ResourceQueue, "", CategoryDLQ, nil,
		"job_ids", jobIDs,
		"count", len(jobIDs),
	)
}

// OnRecovered implements ext.Recovered.
func (e *Extension) OnRecovered(ctx context.Context, jobID, jobName, newJobID string) error {
	return e.record(ctx, ActionDLQRecovered, SeverityInfo, OutcomeSuccess,
		ResourceRecord, jobID, CategoryDLQ, nil,
		"job_name", jobName,
		"new_job_id", newJobID,
	)
}

// OnPurged implements ext.Purged.
func (e *Extension) OnPurged(ctx context.Context, removed int) error {
	return e.record(ctx, ActionDLQPurged, SeverityInfo, OutcomeSuccess,
		ResourceQueue, "", CategoryDLQ, nil,
		"removed", removed,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an event if the action is enabled. kvPairs are
// added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if name, ok := meta["job_name"].(string); ok && e.jobs != nil && !e.jobs[name] {
		return nil
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		At:         e.now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
