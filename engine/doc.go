// Package engine wires the salvage subsystems together from a Config: the
// retry policy registry, the critical alert notifier, the dead letter
// queue, the orchestrator, and an executor with its middleware chain.
//
// This package sits above every subsystem package and below the
// application layer, so subsystems never import each other through it.
//
// # Building an Engine
//
//	cfg, err := salvage.LoadConfig("salvage.yaml")
//	eng, err := engine.New(cfg, redisstore.New(client),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(promExt),
//	    engine.WithAlertSink(pagerSink),
//	)
//
// Without [WithRuntime] the engine runs jobs on an in-process
// worker.Pool. With an external runtime (for example runtime/amqp) the
// runtime's consumer drives [Engine.Executor] itself.
//
// # Registering and Enqueuing Work
//
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail,
//	    job.WithPolicy(retry.ExternalAPI),
//	))
//	eng.Start(ctx)
//	jobID, err := engine.Enqueue(ctx, eng, sendEmailDef, EmailInput{To: "a@b.c"})
//
// # Recovering Dead-Lettered Jobs
//
//	for _, r := range eng.DLQ().List(ctx, dlq.ListOpts{JobName: "send_email"}) {
//	    eng.Retry(ctx, r.JobID)
//	}
//
// # Options
//
//   - [WithRegistry]: supply a pre-populated job registry
//   - [WithRuntime]: use an external work-queue runtime
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithAlertSink]: deliver critical alerts to an external system
//   - [WithPolicy]: add a custom retry policy
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
