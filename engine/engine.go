package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/alert"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/ext"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/kv"
	mw "github.com/xraph/salvage/middleware"
	"github.com/xraph/salvage/observability"
	"github.com/xraph/salvage/orchestrator"
	"github.com/xraph/salvage/retry"
	"github.com/xraph/salvage/worker"
)

// Runtime is a work-queue that can both re-enqueue failed jobs and accept
// fresh submissions for manual recovery.
type Runtime interface {
	orchestrator.Runtime
	dlq.Dispatcher
}

// Engine owns one instance of every subsystem.
type Engine struct {
	cfg        salvage.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry
	policies   *retry.Registry
	notifier   *alert.Notifier
	dlq        *dlq.Store
	orch       *orchestrator.Orchestrator
	executor   *worker.Executor
	runtime    Runtime

	// pool is set when no external runtime was supplied.
	pool *worker.Pool

	exts          []ext.Extension
	mws           []mw.Middleware
	sinks         []alert.Sink
	extraPolicies []retry.Policy
	poolOpts      []worker.PoolOption

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithRegistry supplies a pre-populated job registry.
func WithRegistry(r *job.Registry) Option {
	return func(eng *Engine) { eng.registry = r }
}

// WithRuntime uses rt instead of the in-process worker pool.
func WithRuntime(rt Runtime) Option {
	return func(eng *Engine) { eng.runtime = rt }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithAlertSink adds a destination for critical alerts.
func WithAlertSink(s alert.Sink) Option {
	return func(eng *Engine) { eng.sinks = append(eng.sinks, s) }
}

// WithPolicy registers an additional retry policy beside the built-ins.
func WithPolicy(p retry.Policy) Option {
	return func(eng *Engine) { eng.extraPolicies = append(eng.extraPolicies, p) }
}

// WithPoolOptions configures the in-process worker pool.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) { eng.poolOpts = append(eng.poolOpts, opts...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New validates cfg and builds an Engine persisting into store.
func New(cfg salvage.Config, store kv.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, salvage.ErrNoStore
	}

	eng := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.registry == nil {
		eng.registry = job.NewRegistry()
	}
	logger := eng.logger

	eng.extensions = ext.NewRegistry(logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	policies, err := retry.NewRegistry(cfg.Policies, eng.extraPolicies...)
	if err != nil {
		return nil, err
	}
	eng.policies = policies
	if err := eng.ValidatePolicies(); err != nil {
		return nil, err
	}

	eng.notifier, err = alert.New(cfg.CriticalJobs, alert.WithLogger(logger), alert.WithSinks(eng.sinks...))
	if err != nil {
		return nil, err
	}

	eng.dlq = dlq.New(store, cfg,
		dlq.WithLogger(logger),
		dlq.WithAlerter(eng.notifier),
		dlq.WithExtensions(eng.extensions),
	)

	if eng.runtime == nil {
		eng.pool = worker.NewPool(eng.registry, logger, eng.poolOpts...)
		eng.runtime = eng.pool
	}

	// Build tracing (custom provider or global).
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithExtensions(eng.extensions),
		orchestrator.WithDefaultPolicy(cfg.DefaultPolicy),
	}
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/salvage")
		tracingMw = mw.TracingWithTracer(tracer)
		orchOpts = append(orchOpts, orchestrator.WithTracer(tracer))
	}

	eng.orch, err = orchestrator.New(policies, eng.dlq, eng.runtime, orchOpts...)
	if err != nil {
		return nil, err
	}

	// Build metrics (custom provider or global).
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/salvage"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/salvage/observability"))
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → correlation → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger, eng.registry),
		mw.Correlation(),
		mw.Timeout(logger, eng.registry),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.orch, eng.extensions, logger, allMws...)
	return eng, nil
}

// ValidatePolicies checks that every registered job names a known retry
// policy. Jobs naming none use the default policy.
func (eng *Engine) ValidatePolicies() error {
	for _, e := range eng.registry.Entries() {
		if e.Opts.Policy == "" {
			continue
		}
		if _, err := eng.policies.Get(e.Opts.Policy); err != nil {
			return fmt.Errorf("job %q: %w", e.Name, err)
		}
	}
	return nil
}

// Register registers a typed job definition after checking its policy.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	if def.Opts.Policy != "" {
		if _, err := eng.policies.Get(def.Opts.Policy); err != nil {
			return fmt.Errorf("job %q: %w", def.Name, err)
		}
	}
	job.RegisterDefinition(eng.registry, def)
	return nil
}

// Enqueue submits a typed job through the runtime. The input is encoded
// as the job's kwargs.
func Enqueue[T any](ctx context.Context, eng *Engine, def *job.Definition[T], input T) (string, error) {
	kwargs, err := def.Kwargs(input)
	if err != nil {
		return "", err
	}
	return eng.runtime.Dispatch(ctx, def.Name, nil, kwargs)
}

// Start validates registered jobs and starts the in-process pool, if any.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.ValidatePolicies(); err != nil {
		return err
	}
	if eng.pool != nil {
		return eng.pool.Start(ctx, eng.executor)
	}
	return nil
}

// Stop stops the in-process pool and waits for alert delivery.
func (eng *Engine) Stop(ctx context.Context) error {
	var err error
	if eng.pool != nil {
		err = eng.pool.Stop(ctx)
	}
	eng.notifier.Wait()
	return err
}

// Retry re-dispatches a dead-lettered job through the engine's runtime.
func (eng *Engine) Retry(ctx context.Context, jobID string) bool {
	return eng.dlq.Retry(ctx, jobID, eng.runtime)
}

// Orchestrator returns the failure orchestrator.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orch }

// DLQ returns the dead letter queue.
func (eng *Engine) DLQ() *dlq.Store { return eng.dlq }

// Executor returns the executor, for runtimes that consume jobs themselves.
func (eng *Engine) Executor() *worker.Executor { return eng.executor }

// Runtime returns the work-queue runtime in use.
func (eng *Engine) Runtime() Runtime { return eng.runtime }

// Policies returns the retry policy registry.
func (eng *Engine) Policies() *retry.Registry { return eng.policies }

// Notifier returns the critical alert notifier.
func (eng *Engine) Notifier() *alert.Notifier { return eng.notifier }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }
