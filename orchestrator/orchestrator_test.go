package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/alert"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/ext"
	"github.com/xraph/salvage/id"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/kv/memory"
	"github.com/xraph/salvage/orchestrator"
	"github.com/xraph/salvage/retry"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type scheduled struct {
	job   job.Job
	delay time.Duration
}

type spyRuntime struct {
	mu   sync.Mutex
	err  error
	jobs []scheduled
}

func (r *spyRuntime) Reenqueue(_ context.Context, j *job.Job, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, scheduled{job: *j, delay: delay})
	return nil
}

type countingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *countingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type retryExt struct {
	mu    sync.Mutex
	count []int
}

func (e *retryExt) Name() string { return "retry-recorder" }

func (e *retryExt) OnRetryScheduled(_ context.Context, _, _, _ string, retryCount int, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = append(e.count, retryCount)
	return nil
}

type harness struct {
	orch     *orchestrator.Orchestrator
	store    *dlq.Store
	notifier *alert.Notifier
	sink     *countingSink
	runtime  *spyRuntime
	policies *retry.Registry
}

func newHarness(t *testing.T, opts ...orchestrator.Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := salvage.DefaultConfig()
	cfg.Namespace = "test"

	sink := &countingSink{}
	notifier, err := alert.New(cfg.CriticalJobs, alert.WithLogger(logger), alert.WithSinks(sink))
	if err != nil {
		t.Fatalf("alert.New: %v", err)
	}
	store := dlq.New(memory.New(), cfg, dlq.WithLogger(logger), dlq.WithAlerter(notifier))

	policies, err := retry.NewRegistry(nil)
	if err != nil {
		t.Fatalf("retry.NewRegistry: %v", err)
	}
	rt := &spyRuntime{}
	orch, err := orchestrator.New(policies, store, rt,
		append([]orchestrator.Option{orchestrator.WithLogger(logger)}, opts...)...)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return &harness{orch: orch, store: store, notifier: notifier, sink: sink, runtime: rt, policies: policies}
}

func newJob(name string) *job.Job {
	return &job.Job{
		ID:            id.NewJobID().String(),
		Name:          name,
		Kwargs:        map[string]any{"session_id": "sess-1", "api_token": "abc"},
		CorrelationID: "corr-1",
		ScheduledAt:   time.Now().UTC(),
	}
}

func connRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_RequiresRuntime(t *testing.T) {
	policies, _ := retry.NewRegistry(nil)
	store := dlq.New(memory.New(), salvage.DefaultConfig())
	_, err := orchestrator.New(policies, store, nil)
	if !errors.Is(err, salvage.ErrNoRuntime) {
		t.Fatalf("expected ErrNoRuntime, got %v", err)
	}
}

func TestNew_UnknownDefaultPolicy(t *testing.T) {
	policies, _ := retry.NewRegistry(nil)
	store := dlq.New(memory.New(), salvage.DefaultConfig())
	_, err := orchestrator.New(policies, store, &spyRuntime{}, orchestrator.WithDefaultPolicy("nope"))
	if !errors.Is(err, salvage.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// End to end
// ──────────────────────────────────────────────────

func TestOnFailure_CriticalValidationDeadLettersOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := newJob("crisis_intervention_task")

	d, err := h.orch.OnFailure(ctx, orchestrator.Failure{
		Job:    j,
		Err:    retry.Validation(errors.New("missing field: user_id")),
		Policy: retry.Validation,
	})
	if err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	h.notifier.Wait()

	if d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead_lettered, got %s", d.Outcome)
	}
	if d.Outcome.State() != job.StateDeadLettered {
		t.Errorf("expected state dead_lettered, got %s", d.Outcome.State())
	}
	if len(h.runtime.jobs) != 0 {
		t.Errorf("expected no re-enqueue, got %d", len(h.runtime.jobs))
	}
	if got := h.sink.Count(); got != 1 {
		t.Errorf("expected 1 alert, got %d", got)
	}

	records := h.store.List(ctx, dlq.ListOpts{Limit: 10})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.JobID != j.ID || r.JobName != "crisis_intervention_task" {
		t.Errorf("unexpected record identity: %s %s", r.JobID, r.JobName)
	}
	if r.SessionID != "sess-1" || r.CorrelationID != "corr-1" {
		t.Errorf("context not preserved: session=%q correlation=%q", r.SessionID, r.CorrelationID)
	}
	if r.Kwargs["api_token"] != dlq.Redacted {
		t.Errorf("expected api_token redacted, got %v", r.Kwargs["api_token"])
	}
	if r.OriginalScheduledAt == nil {
		t.Error("expected original scheduled time")
	}
}

func TestOnFailure_NetworkRetriesThenDeadLetters(t *testing.T) {
	re := &retryExt{}
	exts := ext.NewRegistry(nil)
	exts.Register(re)
	h := newHarness(t, orchestrator.WithExtensions(exts))
	ctx := context.Background()

	p, err := h.policies.Get(retry.Network)
	if err != nil {
		t.Fatal(err)
	}
	wantCeilings := []time.Duration{3 * time.Second, 9 * time.Second, 27 * time.Second, 81 * time.Second, 243 * time.Second}

	j := newJob("fetch_partner_feed")
	for attempt := 0; attempt < 5; attempt++ {
		d, err := h.orch.OnFailure(ctx, orchestrator.Failure{Job: j, Err: connRefused(), Policy: retry.Network})
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if d.Outcome != orchestrator.OutcomeRetrying {
			t.Fatalf("attempt %d: expected retrying, got %s (%s)", attempt, d.Outcome, d.Reason)
		}
		ceiling := p.Ceiling(attempt)
		if ceiling != wantCeilings[attempt] {
			t.Errorf("attempt %d: ceiling %v, want %v", attempt, ceiling, wantCeilings[attempt])
		}
		if d.Delay > ceiling || d.Delay < (ceiling/2).Truncate(time.Second) {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d.Delay, ceiling/2, ceiling)
		}

		next := h.runtime.jobs[len(h.runtime.jobs)-1]
		if next.job.RetryCount != attempt+1 {
			t.Errorf("attempt %d: re-enqueued retry_count %d", attempt, next.job.RetryCount)
		}
		if next.delay != d.Delay {
			t.Errorf("attempt %d: runtime delay %v, decision delay %v", attempt, next.delay, d.Delay)
		}
		j = &next.job
	}

	d, err := h.orch.OnFailure(ctx, orchestrator.Failure{Job: j, Err: connRefused(), Policy: retry.Network})
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead_lettered after 5 retries, got %s", d.Outcome)
	}
	if len(h.runtime.jobs) != 5 {
		t.Errorf("expected 5 re-enqueues, got %d", len(h.runtime.jobs))
	}
	rec, err := h.store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.RetryCount != 5 {
		t.Errorf("expected retry_count 5, got %d", rec.RetryCount)
	}
	if len(re.count) != 5 || re.count[4] != 5 {
		t.Errorf("expected 5 retry hooks ending at 5, got %v", re.count)
	}
}

// ──────────────────────────────────────────────────
// Fallbacks
// ──────────────────────────────────────────────────

func TestOnFailure_DefaultPolicy(t *testing.T) {
	h := newHarness(t, orchestrator.WithDefaultPolicy(retry.Storage))
	d, err := h.orch.OnFailure(context.Background(), orchestrator.Failure{
		Job: newJob("import_rows"),
		Err: retry.Transient(errors.New("deadlock detected")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Policy != retry.Storage || d.Outcome != orchestrator.OutcomeRetrying {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestOnFailure_UnknownPolicyDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := newJob("import_rows")

	d, err := h.orch.OnFailure(ctx, orchestrator.Failure{Job: j, Err: connRefused(), Policy: "bogus"})
	if !errors.Is(err, salvage.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
	if d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead_lettered, got %s", d.Outcome)
	}
	if _, err := h.store.Get(ctx, j.ID); err != nil {
		t.Fatalf("record not stored: %v", err)
	}
}

func TestOnFailure_ReenqueueFailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.runtime.err = fmt.Errorf("broker unavailable")
	ctx := context.Background()
	j := newJob("fetch_partner_feed")

	d, err := h.orch.OnFailure(ctx, orchestrator.Failure{Job: j, Err: connRefused(), Policy: retry.Network})
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead_lettered, got %s", d.Outcome)
	}
	if h.store.Count(ctx) != 1 {
		t.Errorf("expected 1 record, got %d", h.store.Count(ctx))
	}
}

func TestOnFailure_IntegrityNotRetried(t *testing.T) {
	h := newHarness(t)
	d, _ := h.orch.OnFailure(context.Background(), orchestrator.Failure{
		Job:    newJob("import_rows"),
		Err:    retry.Integrity(errors.New("duplicate key value")),
		Policy: retry.Storage,
	})
	if d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead_lettered, got %s", d.Outcome)
	}
}

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func TestOnFailure_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h := newHarness(t, orchestrator.WithTracer(tp.Tracer("test")))

	_, _ = h.orch.OnFailure(context.Background(), orchestrator.Failure{
		Job: newJob("fetch_partner_feed"), Err: connRefused(), Policy: retry.Network,
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "salvage.failure.handle" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if v := attrs["salvage.outcome"]; v.AsString() != "retrying" {
		t.Errorf("salvage.outcome = %q", v.AsString())
	}
	if v := attrs["salvage.policy"]; v.AsString() != retry.Network {
		t.Errorf("salvage.policy = %q", v.AsString())
	}
}
