package dlq

import "time"

// Record is one snapshot of a job that exhausted its retries. A stored
// Record is never mutated; recovery dispatches a new job and deletes it.
type Record struct {
	JobID               string         `json:"job_id"`
	JobName             string         `json:"job_name"`
	Args                []any          `json:"args"`
	Kwargs              map[string]any `json:"kwargs"`
	ExceptionType       string         `json:"exception_type"`
	ExceptionMessage    string         `json:"exception_message"`
	StackTrace          string         `json:"stack_trace,omitempty"`
	RetryCount          int            `json:"retry_count"`
	FailedAt            time.Time      `json:"failed_at"`
	CorrelationID       string         `json:"correlation_id,omitempty"`
	SessionID           string         `json:"session_id,omitempty"`
	OriginalScheduledAt *time.Time     `json:"original_scheduled_at,omitempty"`
}

// Failure is the input to [Store.Record].
type Failure struct {
	JobID   string
	JobName string
	Args    []any
	Kwargs  map[string]any

	// Err is the final error. ExceptionType defaults to its dynamic type
	// name when empty.
	Err           error
	ExceptionType string
	StackTrace    string

	RetryCount    int
	CorrelationID string
	ScheduledAt   *time.Time
}
