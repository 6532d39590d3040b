// Package planner is the planner capability: one LLM call with a
// rigid tool-plan contract, guardrail validation per mode, and a
// deterministic fallback that never itself fails. A single structured
// call rather than a streamed multi-turn conversation.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"go.uber.org/zap"
)

// Request is the planner's input contract.
type Request struct {
	Mode         domain.Mode
	Goal         string
	Depth        domain.Depth
	Files        []domain.FileInput
	ChartKinds   []domain.ChartKind
	Focus        string
	TemplateType string
}

// Planner produces a validated Plan for a run, falling back to a
// deterministic plan on any LLM or validation failure.
type Planner struct {
	llmClient llm.Client
	deadline  config.Config
}

func New(cfg config.Config, llmClient llm.Client) *Planner {
	return &Planner{llmClient: llmClient, deadline: cfg}
}

// Plan returns a guardrail-valid Plan. It never returns an error for a
// recoverable failure — the deterministic fallback absorbs those; the
// only error this returns is errs.KindPlannerFailed, reserved for the case
// where even the fallback cannot produce a plan, which given fallbackPlan's
// construction should not occur in practice.
func (p *Planner) Plan(ctx context.Context, req Request) (domain.Plan, error) {
	messages := []llm.Message{
		{Role: "user", Content: systemPrompt(req)},
		{Role: "user", Content: toolSchemaPrompt},
	}

	result, err := p.llmClient.Ask(ctx, messages, 0.3, p.deadline.PlannerTimeout)
	if err != nil {
		logger.Warn("planner LLM call failed, using fallback plan", zap.String("mode", string(req.Mode)))
		return fallbackPlan(req), nil
	}

	plan, parseErr := parsePlan(result.Content)
	if parseErr != nil {
		logger.Warn("planner output failed to parse, using fallback plan", zap.String("mode", string(req.Mode)))
		return fallbackPlan(req), nil
	}

	if err := validatePlan(req, plan); err != nil {
		logger.Warn("planner output violated guardrails, using fallback plan",
			zap.String("mode", string(req.Mode)), zap.String("reason", err.Error()))
		return fallbackPlan(req), nil
	}

	return plan, nil
}

// FallbackUnreachable is returned only if a caller explicitly wants to
// force-fail rather than fall back — not used on the normal path, kept for
// the rare diagnostic case a planner_failed error kind describes.
func FallbackUnreachable(req Request) error {
	return errs.New(errs.KindPlannerFailed, fmt.Errorf("no fallback plan available for mode %s", req.Mode))
}

func systemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are the planning stage of an agentic research and content-generation engine.\n")
	fmt.Fprintf(&sb, "Mode: %s\nGoal: %s\nDepth: %s\n", req.Mode, req.Goal, req.Depth)
	if req.Focus != "" {
		fmt.Fprintf(&sb, "Focus: %s\n", req.Focus)
	}
	if req.TemplateType != "" {
		fmt.Fprintf(&sb, "Template type: %s\n", req.TemplateType)
	}
	if len(req.ChartKinds) > 0 {
		kinds := make([]string, len(req.ChartKinds))
		for i, k := range req.ChartKinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&sb, "Requested chart kinds: %s\n", strings.Join(kinds, ", "))
	}
	if len(req.Files) > 0 {
		sb.WriteString("Uploaded file context (first ~8KB combined):\n")
		sb.WriteString(truncatedFileContext(req.Files, 8*1024))
	}
	return sb.String()
}

func truncatedFileContext(files []domain.FileInput, maxBytes int) string {
	var sb strings.Builder
	remaining := maxBytes
	for _, f := range files {
		if remaining <= 0 {
			break
		}
		fmt.Fprintf(&sb, "### %s\n", f.FileName)
		content := f.Content
		if len(content) > remaining {
			content = content[:remaining]
		}
		sb.WriteString(content)
		sb.WriteString("\n---\n")
		remaining -= len(content)
	}
	return sb.String()
}

const toolSchemaPrompt = `Produce a tool plan as JSON matching exactly this shape:
{
  "understanding": {"coreSubject": "...", "userGoal": "...", "keyTopics": ["..."], "dataGaps": ["..."]},
  "toolCalls": [
    {"tool": "analyze_documents|search_web|generate_chart|draft_section|compile", "parameters": {...}, "reasoning": "...", "dependsOn": [0]}
  ]
}
Rules:
- toolCalls has between 1 and 40 entries.
- Exactly one "compile" call, and it must be the last entry.
- generate_chart.parameters.chartKind must be one of the requested chart kinds, verbatim.
- draft_section.parameters.sectionName must be a distinct section name; never repeat another section's responsibility.
Respond with JSON only, no prose, no markdown fence.`

type planResponse struct {
	Understanding struct {
		CoreSubject string   `json:"coreSubject"`
		UserGoal    string   `json:"userGoal"`
		KeyTopics   []string `json:"keyTopics"`
		DataGaps    []string `json:"dataGaps"`
	} `json:"understanding"`
	ToolCalls []struct {
		Tool       string                 `json:"tool"`
		Parameters map[string]interface{} `json:"parameters"`
		Reasoning  string                 `json:"reasoning"`
		DependsOn  []int                  `json:"dependsOn"`
	} `json:"toolCalls"`
}

func parsePlan(raw string) (domain.Plan, error) {
	var resp planResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return domain.Plan{}, fmt.Errorf("invalid plan json: %w", err)
	}

	plan := domain.Plan{
		Understanding: domain.Understanding{
			CoreSubject: resp.Understanding.CoreSubject,
			UserGoal:    resp.Understanding.UserGoal,
			KeyTopics:   resp.Understanding.KeyTopics,
			DataGaps:    resp.Understanding.DataGaps,
		},
	}
	for _, tc := range resp.ToolCalls {
		plan.ToolCalls = append(plan.ToolCalls, domain.ToolCall{
			Tool:       domain.Tool(tc.Tool),
			Parameters: tc.Parameters,
			Reasoning:  tc.Reasoning,
			DependsOn:  tc.DependsOn,
		})
	}
	return plan, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
