// Package audithook is a salvage extension that writes the failure
// pipeline to an audit trail.
//
// Every retry, dead-lettering, eviction, manual recovery and purge becomes
// one [AuditEvent] delivered to a [Recorder]. Severity is info for normal
// operation, warning for retries and evictions, and critical when a
// critical job is dead-lettered. Manual recovery and purges are operator
// actions on records that may hold conversation data, which is why they are
// audited alongside the automatic events.
//
// # Usage
//
//	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Write(ctx, evt)
//	})
//	eng, _ := engine.New(cfg, store, engine.WithExtension(audithook.New(rec)))
//
// # Selective filtering
//
//	audithook.New(rec,
//	    audithook.WithActions(
//	        audithook.ActionDLQRecorded,
//	        audithook.ActionDLQRecovered,
//	        audithook.ActionDLQPurged,
//	    ),
//	)
package audithook
