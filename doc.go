// Package salvage provides failure handling for asynchronous background
// jobs: exception-classified retry policies with exponential backoff and
// jitter, and a bounded dead letter queue for jobs that exhaust them.
//
// Salvage is a library. A work-queue runtime calls the orchestrator from
// its failure callback; the orchestrator either asks the runtime to
// re-enqueue the job after a computed delay or records it in the dead
// letter queue, alerting on critical job names.
//
// # Quick Start
//
//	cfg := salvage.DefaultConfig()
//	eng, err := engine.New(cfg, redisstore.New(client),
//	    engine.WithRuntime(rt),
//	    engine.WithRegistry(jobs),
//	)
//
//	// From the runtime's failure callback:
//	outcome, err := eng.Orchestrator().OnFailure(ctx, orchestrator.Failure{...})
//
// # Architecture
//
// Each concern lives in its own package: retry (policies and registry),
// backoff (delay math), kv (the shared TTL key/value store and its
// backends), dlq (records, index, recovery), alert (critical failure
// notifications), and orchestrator (retry-or-dead-letter decisions).
// The engine package wires them together from a Config.
package salvage
