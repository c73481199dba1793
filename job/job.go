package job

import (
	"fmt"
	"time"
)

// State is the execution state of a job attempt.
type State string

const (
	// StateRunning means a worker is executing the job.
	StateRunning State = "running"
	// StateSucceeded means the handler returned nil.
	StateSucceeded State = "succeeded"
	// StateFailed means the handler returned an error or panicked.
	StateFailed State = "failed"
	// StateRetrying means the failure was re-enqueued with a delay.
	StateRetrying State = "retrying"
	// StateDeadLettered means the failure was recorded in the DLQ.
	StateDeadLettered State = "dead_lettered"
	// StateManuallyRetried means an operator re-dispatched a dead-lettered
	// job under a fresh id.
	StateManuallyRetried State = "manually_retried"
)

// Job is a unit of work.
type Job struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Args          []any          `json:"args"`
	Kwargs        map[string]any `json:"kwargs"`
	RetryCount    int            `json:"retry_count"`
	CorrelationID string         `json:"correlation_id,omitempty"`

	// ScheduledAt is when the job was first submitted. It is preserved
	// across retries.
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SessionID returns the conversation session the job belongs to, taken
// from its session_id kwarg, or "".
func (j *Job) SessionID() string {
	return SessionIDOf(j.Kwargs)
}

// SessionIDOf extracts kwargs["session_id"] as a string.
func SessionIDOf(kwargs map[string]any) string {
	v, ok := kwargs["session_id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
