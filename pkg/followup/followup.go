// Package followup is the follow-up/regenerate capability: a
// stateless Q&A call against a completed run's finalContent, and a
// regenerate path that synthesizes a new goal and starts a fresh run.
// Nothing here is persisted to a chat thread — fetch by id, verify
// ownership, answer, return.
package followup

import (
	"context"
	"fmt"

	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/metrics"
	"github.com/replicatedhq/chartsmith/pkg/runmanager"
)

type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
}

type Service struct {
	cfg       config.Config
	llmClient llm.Client
	store     RunReader
	manager   *runmanager.Manager
}

func New(cfg config.Config, llmClient llm.Client, store RunReader, manager *runmanager.Manager) *Service {
	return &Service{cfg: cfg, llmClient: llmClient, store: store, manager: manager}
}

// regeneratePreviewChars caps how much of the original finalContent is
// folded into the synthesized goal for a regenerate request.
const regeneratePreviewChars = 2000

// Chat answers a question about a completed run's final content. Never
// persisted to the activity log.
func (s *Service) Chat(ctx context.Context, callerID string, runID string, question string) (string, error) {
	run, err := s.loadOwned(ctx, callerID, runID)
	if err != nil {
		return "", err
	}
	if run.Status != domain.StatusCompleted {
		return "", errs.New(errs.KindValidation, fmt.Errorf("run %s is not completed", runID))
	}

	systemPrompt := fmt.Sprintf(
		"You are answering a question about a completed %s artifact. Answer only from the context below; "+
			"if the answer is not present, say so plainly.\n\nContext:\n%s", run.Mode, run.FinalContent)

	stop := metrics.ObserveCapability("llm")
	result, err := s.llmClient.Ask(ctx, []llm.Message{
		{Role: "user", Content: systemPrompt},
		{Role: "user", Content: question},
	}, 0.3, s.cfg.LLMTimeout)
	stop()
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// Regenerate synthesizes a new goal from the original run plus feedback,
// creates a new run inheriting its parameters, and starts it as a fresh
// run. It returns the new run's id immediately.
func (s *Service) Regenerate(ctx context.Context, callerID string, runID string, feedback string) (string, error) {
	original, err := s.loadOwned(ctx, callerID, runID)
	if err != nil {
		return "", err
	}
	if original.Status != domain.StatusCompleted {
		return "", errs.New(errs.KindValidation, fmt.Errorf("run %s is not completed", runID))
	}

	preview := original.FinalContent
	if len(preview) > regeneratePreviewChars {
		preview = preview[:regeneratePreviewChars]
	}
	newGoal := fmt.Sprintf("%s. Additional feedback: %s. Original output context: %s", original.Goal, feedback, preview)

	newRun := domain.Run{
		ID:              domain.NewID(),
		UserID:          original.UserID,
		OrgID:           original.OrgID,
		Mode:            original.Mode,
		Goal:            newGoal,
		Depth:           original.Depth,
		Focus:           original.Focus,
		TemplateType:    original.TemplateType,
		ChartTypes:      original.ChartTypes,
		PlanFormat:      original.PlanFormat,
		Files:           original.Files,
		RegeneratedFrom: original.ID,
	}

	if err := s.manager.Start(ctx, newRun); err != nil {
		return "", err
	}
	return newRun.ID, nil
}

func (s *Service) loadOwned(ctx context.Context, callerID, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		// a run the caller does not own and a run that does not exist
		// are indistinguishable to the caller.
		return nil, errs.New(errs.KindValidation, fmt.Errorf("run not found"))
	}
	if run.UserID != callerID {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("run not found"))
	}
	return run, nil
}
