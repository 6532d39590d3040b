// Package runmanager is the run manager: the per-run state machine.
// It creates the run row, drives planner → executor → compiler, enforces
// the run-level deadline, and is the only component allowed to write
// terminal status. One goroutine per run, each claiming exclusive
// ownership before it starts driving the run to a terminal state.
package runmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/replicatedhq/chartsmith/pkg/capability/chart"
	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/capability/search"
	"github.com/replicatedhq/chartsmith/pkg/compiler"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/executor"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"github.com/replicatedhq/chartsmith/pkg/metrics"
	"github.com/replicatedhq/chartsmith/pkg/notify"
	"github.com/replicatedhq/chartsmith/pkg/planner"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

// Store is the subset of pkg/store's contract the run manager uses.
type Store interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateStatus(ctx context.Context, runID string, newStatus domain.Status, errKind, errMessage string) error
	SetFinalContent(ctx context.Context, runID string, content string, metadata map[string]interface{}) error
	AppendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) (domain.Activity, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
}

// Manager owns the run lifecycle.
type Manager struct {
	cfg      config.Config
	store    Store
	planner  *planner.Planner
	executor *executor.Executor
	notify   *notify.Sink

	cancels *cancelRegistry
}

func New(cfg config.Config, st Store, llmClient llm.Client, searchClient search.Client, chartClient chart.Client) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		planner:  planner.New(cfg, llmClient),
		executor: executor.New(cfg, llmClient, searchClient, chartClient, st),
		notify:   notify.New(cfg),
		cancels:  newCancelRegistry(),
	}
}

// Start accepts a run: creates its row, claims exclusive ownership, and
// launches its lifecycle goroutine. It returns as soon as the row exists
// (the HTTP surface's ~1-second contract), never waiting for the run to
// finish.
func (m *Manager) Start(ctx context.Context, run domain.Run) error {
	run.Status = domain.StatusQueued
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	if err := m.store.CreateRun(ctx, &run); err != nil {
		return err
	}

	lock, ok, err := store.AcquireOwnership(ctx, run.ID, m.cfg.RunTimeout+time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindInternal, fmt.Errorf("run %s is already owned by another process", run.ID))
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)
	m.cancels.set(run.ID, cancel)

	metrics.ActiveRuns.Inc()

	go func() {
		defer cancel()
		defer lock.Release(context.Background())
		defer m.cancels.delete(run.ID)
		defer metrics.ActiveRuns.Dec()
		m.drive(runCtx, run)
	}()

	return nil
}

// Cancel signals a run's cancel token. Idempotent: cancelling an
// already-terminal or unknown run is a no-op.
func (m *Manager) Cancel(runID string) {
	if cancel, ok := m.cancels.get(runID); ok {
		cancel()
	}
}

// drive runs the full queued→running→terminal lifecycle for one run. Every
// path through this function ends by writing exactly one terminal status
// and its terminal activity — the invariant this component alone owns.
func (m *Manager) drive(ctx context.Context, run domain.Run) {
	if ctx.Err() != nil {
		m.cancelled(ctx, run)
		return
	}
	if err := m.store.UpdateStatus(ctx, run.ID, domain.StatusRunning, "", ""); err != nil {
		logger.Error(fmt.Errorf("transition run %s to running: %w", run.ID, err))
		m.fail(ctx, run, errs.KindInternal, err.Error())
		return
	}

	if _, err := m.store.AppendActivity(ctx, run.ID, domain.ActivityRunInit, map[string]interface{}{
		"mode": string(run.Mode), "goal": run.Goal, "depth": string(run.Depth),
		"requestedCharts": run.ChartTypes, "templateType": run.TemplateType,
	}); err != nil {
		logger.Error(fmt.Errorf("append run.init for %s: %w", run.ID, err))
	}

	plan, err := m.planner.Plan(ctx, planner.Request{
		Mode: run.Mode, Goal: run.Goal, Depth: run.Depth, Files: run.Files,
		ChartKinds: run.ChartTypes, Focus: run.Focus, TemplateType: run.TemplateType,
	})
	if err != nil {
		m.fail(ctx, run, errs.KindPlannerFailed, err.Error())
		return
	}
	run.Plan = &plan

	if ctx.Err() != nil {
		m.cancelled(ctx, run)
		return
	}

	state, err := m.executor.Run(ctx, run.ID, run, plan)
	if err != nil {
		if re, ok := errs.As(err); ok && re.Kind == errs.KindCancelled {
			m.cancelled(ctx, run)
			return
		}
		m.fail(ctx, run, errs.KindInternal, err.Error())
		return
	}

	if ctx.Err() != nil {
		m.cancelled(ctx, run)
		return
	}

	finalContent, err := compiler.Compile(run, state)
	if err != nil {
		m.fail(ctx, run, errs.KindCompileFailed, err.Error())
		return
	}

	m.complete(ctx, run, finalContent, state)
}

func (m *Manager) complete(ctx context.Context, run domain.Run, finalContent string, state *executor.State) {
	metadata := map[string]interface{}{}
	if run.RegeneratedFrom != "" {
		metadata["regeneratedFrom"] = run.RegeneratedFrom
	}

	if err := m.store.SetFinalContent(ctx, run.ID, finalContent, metadata); err != nil {
		m.fail(ctx, run, errs.KindInternal, err.Error())
		return
	}
	if err := m.store.UpdateStatus(ctx, run.ID, domain.StatusCompleted, "", ""); err != nil {
		logger.Error(fmt.Errorf("transition run %s to completed: %w", run.ID, err))
		return
	}

	counts := map[string]int{
		"findings": len(state.Findings),
		"sources":  len(state.Sources),
		"charts":   len(state.ChartArtifacts),
	}
	m.appendTerminal(ctx, run.ID, domain.ActivityRunCompleted, map[string]interface{}{
		"finalContent": finalContent, "counts": counts, "metadata": metadata,
	})
	metrics.RunTerminalTotal.WithLabelValues(string(run.Mode), string(domain.StatusCompleted)).Inc()

	run.Status = domain.StatusCompleted
	run.FinalContent = finalContent
	m.notify.NotifyTerminal(run)
}

func (m *Manager) fail(ctx context.Context, run domain.Run, kind errs.ErrorKind, cause string) {
	logger.Error(fmt.Errorf("run %s failed (%s): %s", run.ID, kind, cause))
	message := (&errs.RunError{Kind: kind}).Message()
	if err := m.store.UpdateStatus(context.Background(), run.ID, domain.StatusFailed, string(kind), message); err != nil {
		logger.Error(fmt.Errorf("transition run %s to failed: %w", run.ID, err))
	}
	m.appendTerminal(ctx, run.ID, domain.ActivityRunFailed, map[string]interface{}{
		"errorKind": string(kind), "message": message,
	})
	metrics.RunTerminalTotal.WithLabelValues(string(run.Mode), string(domain.StatusFailed)).Inc()

	run.Status = domain.StatusFailed
	run.ErrorKind = string(kind)
	run.ErrorMessage = message
	m.notify.NotifyTerminal(run)
}

func (m *Manager) cancelled(ctx context.Context, run domain.Run) {
	if err := m.store.UpdateStatus(context.Background(), run.ID, domain.StatusCancelled, string(errs.KindCancelled), "run was cancelled or exceeded its deadline"); err != nil {
		logger.Error(fmt.Errorf("transition run %s to cancelled: %w", run.ID, err))
	}
	m.appendTerminal(ctx, run.ID, domain.ActivityRunCancelled, map[string]interface{}{})
	metrics.RunTerminalTotal.WithLabelValues(string(run.Mode), string(domain.StatusCancelled)).Inc()

	run.Status = domain.StatusCancelled
	m.notify.NotifyTerminal(run)
}

// appendTerminal uses a background context — the run's own context may
// already be cancelled/expired by the time a terminal activity is written,
// but the activity must still be durably appended.
func (m *Manager) appendTerminal(_ context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) {
	if _, err := m.store.AppendActivity(context.Background(), runID, kind, payload); err != nil {
		logger.Error(fmt.Errorf("append terminal activity %s for run %s: %w", kind, runID, err))
	}
}

