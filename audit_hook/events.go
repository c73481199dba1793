package audithook

// Audit event actions. Each corresponds to one ext hook.
const (
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionRetryScheduled = "job.retry_scheduled"
	ActionDLQRecorded    = "dlq.recorded"
	ActionDLQEvicted     = "dlq.evicted"
	ActionDLQRecovered   = "dlq.recovered"
	ActionDLQPurged      = "dlq.purged"
)

// Audit event categories group related actions.
const (
	CategoryJob = "salvage.job"
	CategoryDLQ = "salvage.dlq"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceRecord = "dlq_record"
	ResourceQueue  = "dlq"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCompleted,
		ActionJobFailed,
		ActionRetryScheduled,
		ActionDLQRecorded,
		ActionDLQEvicted,
		ActionDLQRecovered,
		ActionDLQPurged,
	}
}
