package runmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/capability/chart"
	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/capability/search"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/executor"
	"github.com/replicatedhq/chartsmith/pkg/notify"
	"github.com/replicatedhq/chartsmith/pkg/planner"
)

type fakeLLM struct{ content string }

func (f *fakeLLM) Ask(ctx context.Context, messages []llm.Message, temperature float64, deadline time.Duration) (llm.Result, error) {
	return llm.Result{Content: f.content}, nil
}

type fakeSearch struct{}

func (fakeSearch) Search(ctx context.Context, query string, deadline time.Duration) (search.Result, error) {
	return search.Result{}, nil
}

type fakeChart struct{}

func (fakeChart) Render(ctx context.Context, kind domain.ChartKind, payload map[string]interface{}, deadline time.Duration) (chart.Result, error) {
	return chart.Result{ImageURL: "https://img/1.png", ChartKind: kind}, nil
}

type fakeStore struct {
	mu         sync.Mutex
	runs       map[string]*domain.Run
	statuses   []domain.Status
	activities []domain.Activity
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*domain.Run{}}
}

func (s *fakeStore) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, runID string, newStatus domain.Status, errKind, errMessage string) error {
	if err := ctx.Err(); err != nil {
		// mirrors a pgx query executed on an already-cancelled/expired context.
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, newStatus)
	if r, ok := s.runs[runID]; ok {
		r.Status = newStatus
		r.ErrorKind = errKind
		r.ErrorMessage = errMessage
	}
	return nil
}

func (s *fakeStore) SetFinalContent(ctx context.Context, runID string, content string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		r.FinalContent = content
	}
	return nil
}

func (s *fakeStore) AppendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := domain.Activity{RunID: runID, Kind: kind, Payload: payload}
	s.activities = append(s.activities, a)
	return a, nil
}

func (s *fakeStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID], nil
}

func (s *fakeStore) kindCount(kind domain.ActivityKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.activities {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func testManager(st *fakeStore, llmContent string, cfg config.Config) *Manager {
	llmClient := &fakeLLM{content: llmContent}
	return &Manager{
		cfg:      cfg,
		store:    st,
		planner:  planner.New(cfg, llmClient),
		executor: executor.New(cfg, llmClient, fakeSearch{}, fakeChart{}, st),
		notify:   notify.New(cfg),
		cancels:  newCancelRegistry(),
	}
}

func TestDriveCompletesSuccessfully(t *testing.T) {
	st := newFakeStore()
	plan := `{"understanding":{"coreSubject":"x"},"toolCalls":[{"tool":"generate_chart","parameters":{"chartKind":"bar"}},{"tool":"compile"}]}`
	m := testManager(st, plan, config.Config{RunTimeout: time.Minute, LLMTimeout: time.Second, ChartTimeout: time.Second, PlannerTimeout: time.Second, CapabilityRatePerMinute: 6000})

	run := domain.Run{ID: "run-1", Mode: domain.ModeCharts, ChartTypes: []domain.ChartKind{domain.ChartBar}}
	st.runs[run.ID] = &run

	m.drive(context.Background(), run)

	got, _ := st.GetRun(context.Background(), "run-1")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if st.kindCount(domain.ActivityRunCompleted) != 1 {
		t.Errorf("expected exactly one run.completed activity")
	}
}

func TestDriveFailsOnCompileError(t *testing.T) {
	st := newFakeStore()
	// charts mode with no generate_chart call produces no chart artifacts,
	// so the compiler fails.
	plan := `{"understanding":{"coreSubject":"x"},"toolCalls":[{"tool":"compile"}]}`
	m := testManager(st, plan, config.Config{RunTimeout: time.Minute, LLMTimeout: time.Second, ChartTimeout: time.Second, PlannerTimeout: time.Second, CapabilityRatePerMinute: 6000})

	run := domain.Run{ID: "run-2", Mode: domain.ModeCharts}
	st.runs[run.ID] = &run

	m.drive(context.Background(), run)

	got, _ := st.GetRun(context.Background(), "run-2")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorKind != string(errs.KindCompileFailed) {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, errs.KindCompileFailed)
	}
	if st.kindCount(domain.ActivityRunFailed) != 1 {
		t.Errorf("expected exactly one run.failed activity")
	}
}

func TestDriveHandlesAlreadyCancelledContext(t *testing.T) {
	st := newFakeStore()
	plan := `{"understanding":{"coreSubject":"x"},"toolCalls":[{"tool":"compile"}]}`
	m := testManager(st, plan, config.Config{RunTimeout: time.Minute, LLMTimeout: time.Second, ChartTimeout: time.Second, PlannerTimeout: time.Second, CapabilityRatePerMinute: 6000})

	run := domain.Run{ID: "run-3", Mode: domain.ModeCharts}
	st.runs[run.ID] = &run

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.drive(ctx, run)

	got, _ := st.GetRun(context.Background(), "run-3")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestFailWritesStatusEvenWithCancelledContext(t *testing.T) {
	st := newFakeStore()
	m := testManager(st, `{"understanding":{"coreSubject":"x"},"toolCalls":[{"tool":"compile"}]}`,
		config.Config{RunTimeout: time.Minute, LLMTimeout: time.Second, ChartTimeout: time.Second, PlannerTimeout: time.Second, CapabilityRatePerMinute: 6000})

	run := domain.Run{ID: "run-4", Mode: domain.ModeCharts}
	st.runs[run.ID] = &run

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.fail(ctx, run, errs.KindInternal, "boom")

	got, _ := st.GetRun(context.Background(), "run-4")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed even though the run's own context was already cancelled", got.Status)
	}
}

func TestCancelledWritesStatusEvenWithCancelledContext(t *testing.T) {
	st := newFakeStore()
	m := testManager(st, `{"understanding":{"coreSubject":"x"},"toolCalls":[{"tool":"compile"}]}`,
		config.Config{RunTimeout: time.Minute, LLMTimeout: time.Second, ChartTimeout: time.Second, PlannerTimeout: time.Second, CapabilityRatePerMinute: 6000})

	run := domain.Run{ID: "run-5", Mode: domain.ModeCharts}
	st.runs[run.ID] = &run

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.cancelled(ctx, run)

	got, _ := st.GetRun(context.Background(), "run-5")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled even though the run's own context was already cancelled", got.Status)
	}
}

func TestCancelRegistrySetGetDelete(t *testing.T) {
	r := newCancelRegistry()
	called := false
	r.set("run-x", func() { called = true })

	cancel, ok := r.get("run-x")
	if !ok {
		t.Fatal("expected to find the registered cancel func")
	}
	cancel()
	if !called {
		t.Error("expected the cancel func to run")
	}

	r.delete("run-x")
	if _, ok := r.get("run-x"); ok {
		t.Error("expected the cancel func to be gone after delete")
	}
}

func TestCancelIsNoOpForUnknownRun(t *testing.T) {
	st := newFakeStore()
	m := testManager(st, "", config.Config{})
	m.Cancel("does-not-exist")
}
