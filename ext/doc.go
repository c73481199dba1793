// Package ext defines the extension system for salvage.
//
// Extensions are notified of failure-handling events and can react to
// them: recording metrics, forwarding alerts, writing audit logs. Each
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnDeadLettered(ctx context.Context, jobID, jobName, exceptionType string, critical bool) error {
//	    log.Printf("job %s (%s) dead-lettered", jobID, jobName)
//	    return nil
//	}
//
// # Execution Hooks
//
//   - [JobCompleted]: a handler finished successfully
//   - [JobFailed]: a handler returned an error or panicked
//
// # Failure Hooks
//
//   - [RetryScheduled]: a failure was re-enqueued with a delay
//   - [DeadLettered]: a failure was recorded in the dead letter queue
//   - [Evicted]: records were dropped to keep the queue within its bound
//   - [Recovered]: a dead-lettered job was manually re-dispatched
//   - [Purged]: records were removed by an operator purge
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never returned to the caller.
package ext
