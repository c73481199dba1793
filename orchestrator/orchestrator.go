// Package orchestrator decides, for every failed job execution, whether
// the job is retried or dead-lettered.
//
// On failure the orchestrator consults the retry policy named by the
// job's failure domain. If the policy allows another attempt the job is
// handed back to the work-queue [Runtime] with the policy's delay and an
// incremented retry count; otherwise it is recorded in the dead letter
// queue. A failure is never dropped: if re-enqueueing fails, or the job
// names an unknown policy, the job is dead-lettered instead.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/ext"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/retry"
)

// tracerName is the instrumentation scope name for salvage tracing.
const tracerName = "github.com/xraph/salvage"

// Runtime is the work-queue capability used to schedule a retry.
type Runtime interface {
	// Reenqueue submits j again after delay. j.RetryCount is already
	// incremented.
	Reenqueue(ctx context.Context, j *job.Job, delay time.Duration) error
}

// Recorder is the dead letter queue write path.
type Recorder interface {
	Record(ctx context.Context, f dlq.Failure)
}

var _ Recorder = (*dlq.Store)(nil)

// Outcome is the terminal state reached from a failure.
type Outcome string

const (
	// OutcomeRetrying means the job was re-enqueued.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeDeadLettered means the job was recorded in the DLQ.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// State maps the outcome onto the job state machine.
func (o Outcome) State() job.State {
	if o == OutcomeRetrying {
		return job.StateRetrying
	}
	return job.StateDeadLettered
}

// Failure describes one failed execution.
type Failure struct {
	Job        *job.Job
	Err        error
	StackTrace string

	// Policy names the retry policy. Empty means the default policy.
	Policy string
}

// Decision is the result of OnFailure.
type Decision struct {
	Outcome Outcome
	Policy  string
	Reason  string

	// Delay is the wait before the retry; zero when dead-lettered.
	Delay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(o *Orchestrator) { o.exts = r }
}

// WithDefaultPolicy sets the policy used when a failure names none.
func WithDefaultPolicy(name string) Option {
	return func(o *Orchestrator) { o.defaultPolicy = name }
}

// Orchestrator routes failures to retry or the dead letter queue. Safe
// for concurrent use.
type Orchestrator struct {
	policies      *retry.Registry
	dlq           Recorder
	runtime       Runtime
	defaultPolicy string
	exts          *ext.Registry
	tracer        trace.Tracer
	logger        *slog.Logger
}

// New creates an Orchestrator. The default policy must exist in policies.
func New(policies *retry.Registry, rec Recorder, rt Runtime, opts ...Option) (*Orchestrator, error) {
	if rec == nil {
		return nil, salvage.ErrNoStore
	}
	if rt == nil {
		return nil, salvage.ErrNoRuntime
	}
	o := &Orchestrator{
		policies:      policies,
		dlq:           rec,
		runtime:       rt,
		defaultPolicy: retry.Network,
		tracer:        otel.Tracer(tracerName),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if _, err := policies.Get(o.defaultPolicy); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	return o, nil
}

// OnFailure handles one failed execution. It returns a non-nil error only
// for an unknown policy name; the job is dead-lettered in that case too.
func (o *Orchestrator) OnFailure(ctx context.Context, f Failure) (Decision, error) {
	j := f.Job
	name := f.Policy
	if name == "" {
		name = o.defaultPolicy
	}

	ctx, span := o.tracer.Start(ctx, "salvage.failure.handle",
		trace.WithAttributes(
			attribute.String("salvage.job.id", j.ID),
			attribute.String("salvage.job.name", j.Name),
			attribute.Int("salvage.retry_count", j.RetryCount),
			attribute.String("salvage.policy", name),
			attribute.String("salvage.exception_type", retry.TypeName(f.Err)),
		),
	)
	defer span.End()

	log := o.logger.With(
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.String("policy", name),
		slog.Int("retry_count", j.RetryCount),
	)

	p, err := o.policies.Get(name)
	if err != nil {
		log.Error("job names unknown retry policy; dead-lettering", slog.String("error", err.Error()))
		d := o.deadLetter(ctx, f, name, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d, err
	}

	ok, reason := p.ShouldRetry(f.Err, j.RetryCount)
	if !ok {
		log.Info("job not retryable", slog.String("reason", reason))
		d := o.deadLetter(ctx, f, name, reason)
		span.SetAttributes(attribute.String("salvage.outcome", string(d.Outcome)))
		return d, nil
	}

	delay := p.Delay(j.RetryCount)
	next := *j
	next.RetryCount = j.RetryCount + 1
	if err := o.runtime.Reenqueue(ctx, &next, delay); err != nil {
		log.Error("failed to re-enqueue job; dead-lettering", slog.String("error", err.Error()))
		span.RecordError(err)
		d := o.deadLetter(ctx, f, name, fmt.Sprintf("re-enqueue failed: %v", err))
		span.SetAttributes(attribute.String("salvage.outcome", string(d.Outcome)))
		return d, nil
	}

	log.Info("job scheduled for retry",
		slog.Int("next_retry_count", next.RetryCount),
		slog.Int("max_retries", p.Config().MaxRetries),
		slog.Duration("delay", delay),
		slog.String("reason", reason),
	)
	o.exts.EmitRetryScheduled(ctx, j.ID, j.Name, name, next.RetryCount, delay)
	span.SetAttributes(
		attribute.String("salvage.outcome", string(OutcomeRetrying)),
		attribute.Int64("salvage.delay_ms", delay.Milliseconds()),
	)
	return Decision{Outcome: OutcomeRetrying, Policy: name, Reason: reason, Delay: delay}, nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, f Failure, policy, reason string) Decision {
	j := f.Job
	var scheduled *time.Time
	if !j.ScheduledAt.IsZero() {
		t := j.ScheduledAt
		scheduled = &t
	}
	o.dlq.Record(ctx, dlq.Failure{
		JobID:         j.ID,
		JobName:       j.Name,
		Args:          j.Args,
		Kwargs:        j.Kwargs,
		Err:           f.Err,
		StackTrace:    f.StackTrace,
		RetryCount:    j.RetryCount,
		CorrelationID: j.CorrelationID,
		ScheduledAt:   scheduled,
	})
	return Decision{Outcome: OutcomeDeadLettered, Policy: policy, Reason: reason}
}
