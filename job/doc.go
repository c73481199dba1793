// Package job defines the unit of work, its execution states, and the
// name → handler registry the work-queue runtime resolves jobs against.
//
// # Job
//
// A [Job] is one invocation of a named handler with positional Args and
// keyword Kwargs. It carries its RetryCount and an optional CorrelationID
// across re-enqueues. A job execution moves through:
//
//	running → succeeded
//	running → failed → retrying → running → ...
//	running → failed → dead_lettered → (manual retry) → running
//
// # Defining a Job
//
// Untyped handlers receive the job directly. Typed handlers use
// [Definition]; Kwargs are decoded into T before the handler runs:
//
//	var Notify = job.NewDefinition("security_alert_task",
//	    func(ctx context.Context, in AlertInput) error {
//	        return pager.Page(ctx, in.Team, in.Message)
//	    },
//	    job.WithPolicy(retry.ExternalAPI),
//	)
//
//	job.RegisterDefinition(registry, Notify)
//
// [Options.Policy] names the retry policy (failure domain) consulted when
// the handler fails. An empty policy means the process default.
package job
