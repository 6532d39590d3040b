package planner

import (
	"strings"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

// fallbackPlan builds the minimum plan consistent with mode and inputs. It
// never itself fails, and every plan it returns ends in a compile call. Its
// output is not checked by validatePlan and does not always pass it: the
// report branch drafts only an Executive Summary, fewer draft_section calls
// than report mode's per-depth range, and an unknown template type yields a
// compile-only plan.
func fallbackPlan(req Request) domain.Plan {
	understanding := domain.Understanding{
		CoreSubject: firstWords(req.Goal, 12),
		UserGoal:    req.Goal,
	}

	var calls []domain.ToolCall

	hasFiles := len(req.Files) > 0
	seedQuery := firstWords(req.Goal, 12)

	switch req.Mode {
	case domain.ModeResearch:
		if hasFiles {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolAnalyzeDocuments, Parameters: map[string]interface{}{}, Reasoning: "fallback: summarize uploaded files"})
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolSearchWeb, Parameters: map[string]interface{}{"query": seedQuery}, Reasoning: "fallback: seed search from goal"})
		if req.Depth == domain.DepthBrief {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolDraftSection, Parameters: map[string]interface{}{"sectionName": "Brief Synthesis"}, Reasoning: "fallback: brief depth collapses to one synthesis section"})
		} else {
			for _, s := range []string{"Overview", "Key Findings", "Analysis", "Recommendations"} {
				calls = append(calls, domain.ToolCall{Tool: domain.ToolDraftSection, Parameters: map[string]interface{}{"sectionName": s}, Reasoning: "fallback: required research section"})
			}
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: compile research report"})

	case domain.ModeReport:
		calls = append(calls, domain.ToolCall{Tool: domain.ToolSearchWeb, Parameters: map[string]interface{}{"query": seedQuery}, Reasoning: "fallback: seed search from goal"})
		calls = append(calls, domain.ToolCall{Tool: domain.ToolDraftSection, Parameters: map[string]interface{}{"sectionName": "Executive Summary"}, Reasoning: "fallback: minimum required section"})
		for _, kind := range req.ChartKinds {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolGenerateChart, Parameters: map[string]interface{}{"chartKind": string(kind)}, Reasoning: "fallback: requested chart"})
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: compile report"})

	case domain.ModeTemplate:
		sections := TemplateCatalog[req.TemplateType]
		for _, s := range sections {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolDraftSection, Parameters: map[string]interface{}{"sectionName": s}, Reasoning: "fallback: fixed template section"})
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: compile template"})

	case domain.ModeCharts:
		for _, kind := range req.ChartKinds {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolGenerateChart, Parameters: map[string]interface{}{"chartKind": string(kind)}, Reasoning: "fallback: requested chart"})
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: assemble chart artifacts"})

	case domain.ModePlan:
		for _, s := range PlanCanonicalSections {
			calls = append(calls, domain.ToolCall{Tool: domain.ToolDraftSection, Parameters: map[string]interface{}{"sectionName": s}, Reasoning: "fallback: canonical plan section"})
		}
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: compile plan"})
	}

	// every recognized mode appends a compile call above; an unrecognized
	// mode leaves calls empty, so it gets a lone compile call.
	if len(calls) == 0 {
		calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile, Parameters: map[string]interface{}{}, Reasoning: "fallback: nothing to do"})
	}

	return domain.Plan{Understanding: understanding, ToolCalls: calls}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
