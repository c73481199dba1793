// Package worker runs jobs: an Executor invokes registered handlers
// through middleware and hands failures to the orchestrator, and a Pool
// is an in-process work queue that drives the Executor from concurrent
// worker goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/ext"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/middleware"
	"github.com/xraph/salvage/orchestrator"
	"github.com/xraph/salvage/retry"
)

// FailureHandler decides the fate of a failed execution.
type FailureHandler interface {
	OnFailure(ctx context.Context, f orchestrator.Failure) (orchestrator.Decision, error)
}

var _ FailureHandler = (*orchestrator.Orchestrator)(nil)

// Executor runs a single job through middleware and the registered handler,
// then routes failures to the FailureHandler and emits lifecycle events.
type Executor struct {
	registry   *job.Registry
	failures   FailureHandler
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	failures FailureHandler,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		failures:   failures,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j and returns the state it reached. On failure the
// handler's error is returned alongside StateRetrying or
// StateDeadLettered. A job with no registered handler is treated as a
// validation failure.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (job.State, error) {
	entry, ok := e.registry.Get(j.Name)
	if !ok {
		err := retry.Validation(fmt.Errorf("%w: %q", salvage.ErrHandlerNotFound, j.Name))
		return e.handleFailure(ctx, j, err, retry.Validation), err
	}

	start := time.Now()

	terminal := func(ctx context.Context) error {
		return entry.Handler(ctx, j)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, j, err, entry.Opts.Policy), err
	}

	e.extensions.EmitJobCompleted(ctx, j.ID, j.Name, elapsed)
	return job.StateSucceeded, nil
}

// handleFailure emits JobFailed and hands the failure to the orchestrator.
// Failure handling outlives cancellation of the execution context so a
// timed-out or shut-down job is still retried or recorded.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error, policy string) job.State {
	ctx = context.WithoutCancel(ctx)

	var stack string
	var pe *middleware.PanicError
	if errors.As(jobErr, &pe) {
		stack = pe.Stack
	}

	e.extensions.EmitJobFailed(ctx, j.ID, j.Name, j.RetryCount, jobErr)

	d, err := e.failures.OnFailure(ctx, orchestrator.Failure{
		Job:        j,
		Err:        jobErr,
		StackTrace: stack,
		Policy:     policy,
	})
	if err != nil {
		e.logger.Error("failure handling reported an error",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
	return d.Outcome.State()
}
