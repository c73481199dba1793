// Package dlq is the dead letter queue for jobs that have exhausted their
// retry budget.
//
// Each failure is stored as an immutable [Record] under its job id with a
// fixed retention (seven days by default), and the id is added to a
// bounded queue index so operators can list, inspect, re-dispatch, or
// purge failures.
//
// # Index discipline
//
// If the backing kv store implements kv.IndexStore (Redis, memory), the
// index is an ordered set updated with atomic add/remove primitives and
// trimmed with an atomic trim-oldest. Otherwise (NATS KV) the index is a
// JSON list rewritten inside a short-lived distributed lock. Lock
// acquisition is bounded: after the configured attempts the index update
// is skipped with a warning. The record itself is still written and can
// be fetched by id.
//
// # Failure path safety
//
// [Store.Record] runs inside an already-failing job's failure path, so it
// never returns an error. Storage errors are logged. List, Purge, and
// Count likewise log and return empty results. Retry reports a bool.
//
// # Manual recovery
//
//	ok := store.Retry(ctx, jobID, runtime)
//
// Retry takes a short-lived claim on the record before dispatching, so
// two operators retrying the same id cannot both resubmit it.
package dlq
