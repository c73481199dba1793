package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/alert"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/engine"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/kv/memory"
	"github.com/xraph/salvage/orchestrator"
	"github.com/xraph/salvage/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() salvage.Config {
	cfg := salvage.DefaultConfig()
	cfg.Namespace = "test"
	return cfg
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	eng, err := engine.New(testConfig(), memory.New(), append([]engine.Option{engine.WithLogger(discardLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type sink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *sink) Name() string { return "test-sink" }

func (s *sink) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type spyRuntime struct {
	mu         sync.Mutex
	requeued   []int
	dispatched []string
}

func (r *spyRuntime) Reenqueue(_ context.Context, j *job.Job, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeued = append(r.requeued, j.RetryCount)
	return nil
}

func (r *spyRuntime) Lookup(string) bool { return true }

func (r *spyRuntime) Dispatch(_ context.Context, name string, _ []any, _ map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, name)
	return "job_new", nil
}

type deadLetterCounter struct{ n atomic.Int32 }

func (d *deadLetterCounter) Name() string { return "dl-counter" }

func (d *deadLetterCounter) OnDeadLettered(context.Context, string, string, string, bool) error {
	d.n.Add(1)
	return nil
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	bad := testConfig()
	bad.MaxQueueSize = 0
	if _, err := engine.New(bad, memory.New()); !errors.Is(err, salvage.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := engine.New(testConfig(), nil); !errors.Is(err, salvage.ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}

	badDefault := testConfig()
	badDefault.DefaultPolicy = "nope"
	if _, err := engine.New(badDefault, memory.New()); !errors.Is(err, salvage.ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy for default policy, got %v", err)
	}
}

func TestNew_RejectsUnknownJobPolicy(t *testing.T) {
	reg := job.NewRegistry()
	reg.Register("import", func(context.Context, *job.Job) error { return nil }, job.WithPolicy("bogus"))

	_, err := engine.New(testConfig(), memory.New(), engine.WithRegistry(reg))
	if !errors.Is(err, salvage.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestRegister_RejectsUnknownPolicy(t *testing.T) {
	eng := newEngine(t)
	def := job.NewDefinition("import", func(context.Context, struct{}) error { return nil }, job.WithPolicy("bogus"))
	if err := engine.Register(eng, def); !errors.Is(err, salvage.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
	if eng.Registry().Lookup("import") {
		t.Error("job registered despite invalid policy")
	}
}

func TestNew_CustomPolicy(t *testing.T) {
	never := retry.New("never", retry.Config{MaxRetries: 0, ExponentialBase: 2}, nil)
	eng := newEngine(t, engine.WithPolicy(never))
	if _, err := eng.Policies().Get("never"); err != nil {
		t.Fatalf("custom policy missing: %v", err)
	}
}

// ──────────────────────────────────────────────────
// In-process runtime
// ──────────────────────────────────────────────────

type reportInput struct {
	SessionID string `json:"session_id"`
	Password  string `json:"password"`
}

func TestEngine_CriticalValidationFailureEndToEnd(t *testing.T) {
	s := &sink{}
	counter := &deadLetterCounter{}
	eng := newEngine(t, engine.WithAlertSink(s), engine.WithExtension(counter))

	var fail atomic.Bool
	fail.Store(true)
	var runs atomic.Int32
	def := job.NewDefinition("crisis_intervention_task", func(_ context.Context, in reportInput) error {
		runs.Add(1)
		if fail.Load() {
			return retry.Validation(errors.New("missing user"))
		}
		return nil
	}, job.WithPolicy(retry.Validation))
	if err := engine.Register(eng, def); err != nil {
		t.Fatal(err)
	}
	start(t, eng)

	ctx := context.Background()
	jobID, err := engine.Enqueue(ctx, eng, def, reportInput{SessionID: "sess-7", Password: "pw"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, "dead letter record", func() bool { return eng.DLQ().Count(ctx) == 1 })
	eng.Notifier().Wait()

	records := eng.DLQ().List(ctx, dlq.ListOpts{Limit: 10})
	if len(records) != 1 || records[0].JobID != jobID {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].SessionID != "sess-7" {
		t.Errorf("session_id = %q", records[0].SessionID)
	}
	if records[0].Kwargs["password"] != dlq.Redacted {
		t.Errorf("password not redacted: %v", records[0].Kwargs["password"])
	}
	if s.Count() != 1 {
		t.Errorf("alerts = %d, want 1", s.Count())
	}
	if counter.n.Load() != 1 {
		t.Errorf("DeadLettered hooks = %d, want 1", counter.n.Load())
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, validation failures must not retry", runs.Load())
	}

	fail.Store(false)
	if !eng.Retry(ctx, jobID) {
		t.Fatal("Retry returned false")
	}
	waitFor(t, "manual retry", func() bool { return runs.Load() == 2 })
	if eng.DLQ().Count(ctx) != 0 {
		t.Errorf("record still present after retry")
	}
}

// ──────────────────────────────────────────────────
// External runtime
// ──────────────────────────────────────────────────

func TestEngine_ExternalRuntime(t *testing.T) {
	rt := &spyRuntime{}
	eng := newEngine(t, engine.WithRuntime(rt))
	eng.Registry().Register("fetch", func(context.Context, *job.Job) error {
		return retry.Transport(errors.New("connection reset"))
	}, job.WithPolicy(retry.Network))
	start(t, eng)

	if eng.Runtime() != rt {
		t.Fatal("engine not using supplied runtime")
	}

	state, err := eng.Executor().Execute(context.Background(), &job.Job{ID: "job_1", Name: "fetch", RetryCount: 1})
	if err == nil {
		t.Fatal("expected handler error")
	}
	if state != job.StateRetrying {
		t.Errorf("state = %q, want retrying", state)
	}
	if len(rt.requeued) != 1 || rt.requeued[0] != 2 {
		t.Errorf("requeued = %v, want [2]", rt.requeued)
	}

	d, err := eng.Orchestrator().OnFailure(context.Background(), orchestrator.Failure{
		Job:    &job.Job{ID: "job_2", Name: "fetch", RetryCount: 5},
		Err:    retry.Transport(errors.New("connection reset")),
		Policy: retry.Network,
	})
	if err != nil || d.Outcome != orchestrator.OutcomeDeadLettered {
		t.Fatalf("expected dead letter after budget, got %+v, %v", d, err)
	}

	if !eng.Retry(context.Background(), "job_2") {
		t.Fatal("Retry returned false")
	}
	if len(rt.dispatched) != 1 || rt.dispatched[0] != "fetch" {
		t.Errorf("dispatched = %v", rt.dispatched)
	}
}

func TestEngine_TracerProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	eng := newEngine(t, engine.WithRuntime(&spyRuntime{}), engine.WithTracerProvider(tp))
	eng.Registry().Register("fetch", func(context.Context, *job.Job) error {
		return retry.Transport(errors.New("connection reset"))
	})

	_, _ = eng.Executor().Execute(context.Background(), &job.Job{ID: "job_1", Name: "fetch"})

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	if !names["salvage.job.execute"] || !names["salvage.failure.handle"] {
		t.Errorf("spans = %v", names)
	}
}
