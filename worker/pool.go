package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/id"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/middleware"
	"github.com/xraph/salvage/orchestrator"
	"github.com/xraph/salvage/throttle"
)

// ErrStopped is returned when submitting to a pool that has been stopped.
var ErrStopped = errors.New("worker: pool stopped")

var (
	_ orchestrator.Runtime = (*Pool)(nil)
	_ dlq.Dispatcher       = (*Pool)(nil)
)

// Pool is an in-process work queue. Jobs are buffered on a channel and
// executed by a fixed set of worker goroutines. Delayed re-enqueues are
// held on timers; timers still pending at Stop are dropped.
type Pool struct {
	registry    *job.Registry
	executor    *Executor
	concurrency int
	queueSize   int
	logger      *slog.Logger

	throttle      *throttle.Manager
	throttleDelay time.Duration

	queue  chan *job.Job
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	timers  map[*time.Timer]string

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueueSize sets the capacity of the pending job buffer.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queueSize = n }
}

// WithThrottle enforces per-job and per-session limits. Jobs over their
// limit are deferred by delay and offered again; deferral is not a retry.
func WithThrottle(m *throttle.Manager, delay time.Duration) PoolOption {
	return func(p *Pool) {
		p.throttle = m
		if delay > 0 {
			p.throttleDelay = delay
		}
	}
}

// NewPool creates a pool that executes jobs registered in registry.
// Jobs may be submitted before Start; they wait in the buffer.
func NewPool(registry *job.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		registry:    registry,
		concurrency: 10,
		queueSize:   1024,
		logger:      logger,

		throttleDelay: 100 * time.Millisecond,
		stopCh:        make(chan struct{}),
		timers:        make(map[*time.Timer]string),
		activeJobs:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *job.Job, p.queueSize)
	return p
}

// Start launches the worker goroutines driving exec. It returns
// immediately. Starting a running pool is a no-op.
func (p *Pool) Start(_ context.Context, exec *Executor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.running {
		return nil
	}
	p.executor = exec
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time runs
// out. Pending retry timers and buffered jobs are dropped and logged.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.running = false
	for t, jobID := range p.timers {
		if t.Stop() {
			p.logger.Warn("dropping scheduled retry", slog.String("job_id", jobID))
		}
	}
	p.timers = make(map[*time.Timer]string)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	if n := len(p.queue); n > 0 {
		p.logger.Warn("worker pool stopped with buffered jobs", slog.Int("dropped", n))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Runtime
// ──────────────────────────────────────────────────

// Lookup reports whether a handler is registered for jobName.
func (p *Pool) Lookup(jobName string) bool {
	return p.registry.Lookup(jobName)
}

// Dispatch submits a new job and returns its id. The correlation id is
// taken from ctx when present, otherwise a new one is generated.
func (p *Pool) Dispatch(ctx context.Context, jobName string, args []any, kwargs map[string]any) (string, error) {
	if !p.registry.Lookup(jobName) {
		return "", fmt.Errorf("%w: %q", salvage.ErrHandlerNotFound, jobName)
	}
	corr, ok := middleware.CorrelationID(ctx)
	if !ok {
		corr = uuid.NewString()
	}
	j := &job.Job{
		ID:            id.NewJobID().String(),
		Name:          jobName,
		Args:          args,
		Kwargs:        kwargs,
		CorrelationID: corr,
		ScheduledAt:   time.Now().UTC(),
	}
	if err := p.Submit(ctx, j); err != nil {
		return "", err
	}
	return j.ID, nil
}

// Submit places j on the queue, blocking while the buffer is full.
func (p *Pool) Submit(ctx context.Context, j *job.Job) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	select {
	case p.queue <- j:
		return nil
	case <-p.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reenqueue submits j again once delay has elapsed. It never blocks on
// a full buffer: a job that cannot be buffered immediately is handed to
// a timer that waits for room.
func (p *Pool) Reenqueue(_ context.Context, j *job.Job, delay time.Duration) error {
	if delay <= 0 {
		select {
		case <-p.stopCh:
			return ErrStopped
		default:
		}
		select {
		case p.queue <- j:
			return nil
		default:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()
		if err := p.Submit(context.Background(), j); err != nil {
			p.logger.Warn("scheduled retry not submitted",
				slog.String("job_id", j.ID),
				slog.String("job_name", j.Name),
				slog.String("error", err.Error()),
			)
		}
	})
	p.timers[t] = j.ID
	return nil
}

// Scheduled returns the number of retries waiting on their delay.
func (p *Pool) Scheduled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Pending returns the number of buffered jobs.
func (p *Pool) Pending() int { return len(p.queue) }

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.queue:
			p.run(j)
		}
	}
}

func (p *Pool) run(j *job.Job) {
	if p.throttle != nil {
		session := j.SessionID()
		if !p.throttle.Acquire(j.Name, session) {
			p.deferJob(j)
			return
		}
		defer p.throttle.Release(j.Name, session)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID, cancel)
	defer func() {
		p.untrackJob(j.ID)
		cancel()
	}()

	state, err := p.executor.Execute(ctx, j)
	if err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
}

// deferJob puts a throttled job back on a timer without touching its
// retry count.
func (p *Pool) deferJob(j *job.Job) {
	p.logger.Debug("job throttled",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Duration("delay", p.throttleDelay),
	)
	if err := p.Reenqueue(context.Background(), j, p.throttleDelay); err != nil {
		p.logger.Warn("throttled job dropped",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
