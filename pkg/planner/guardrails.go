package planner

import (
	"fmt"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

// researchSearchCap is the per-depth search_web ceiling for research mode.
var researchSearchCap = map[domain.Depth]int{
	domain.DepthBrief:         1,
	domain.DepthShort:         1,
	domain.DepthMedium:        2,
	domain.DepthLong:          3,
	domain.DepthComprehensive: 4,
}

// reportSectionRange is the draft_section count range for report mode,
// tuned by depth.
var reportSectionRange = map[domain.Depth][2]int{
	domain.DepthBrief:         {2, 3},
	domain.DepthShort:         {3, 5},
	domain.DepthMedium:        {4, 7},
	domain.DepthLong:          {6, 9},
	domain.DepthComprehensive: {8, 10},
}

// TemplateCatalog is the fixed section list per templateType.
var TemplateCatalog = map[string][]string{
	"swot_analysis":     {"Overview", "Strengths", "Weaknesses", "Opportunities", "Threats", "Strategic Recommendations"},
	"executive_brief":   {"Overview", "Key Findings", "Strategic Implications", "Recommendations"},
	"market_landscape":  {"Market Overview", "Segments", "Key Players", "Trends", "Competitive Dynamics", "Outlook"},
	"competitor_dossier": {"Company Profile", "Products", "Positioning", "Strengths & Weaknesses", "Outlook"},
	"business_plan":     {"Executive Summary", "Market", "Offering", "Go-to-Market", "Operations", "Financials", "Risks"},
	"project_plan":      {"Scope", "Milestones", "Workstreams", "Timeline", "Resources", "Risks"},
	"strategic_plan":    {"Vision", "Objectives", "Initiatives", "Timeline", "Metrics", "Risks"},
}

// PlanCanonicalSections is the fixed section list for plan mode.
var PlanCanonicalSections = []string{
	"Executive Summary", "Goals", "Timeline", "Resources", "Risks", "Recommendations", "Conclusion",
}

var validTools = map[domain.Tool]bool{
	domain.ToolAnalyzeDocuments: true,
	domain.ToolSearchWeb:        true,
	domain.ToolGenerateChart:    true,
	domain.ToolDraftSection:     true,
	domain.ToolCompile:          true,
}

// validatePlan enforces every guardrail in the planner's validation rules.
// A violation is reported as a single error; the caller falls back.
func validatePlan(req Request, plan domain.Plan) error {
	if plan.Understanding.CoreSubject == "" && plan.Understanding.UserGoal == "" {
		return fmt.Errorf("understanding is empty")
	}
	n := len(plan.ToolCalls)
	if n < 1 || n > 40 {
		return fmt.Errorf("toolCalls length %d out of range [1,40]", n)
	}

	counts := map[domain.Tool]int{}
	compileIdx := -1
	for i, tc := range plan.ToolCalls {
		if !validTools[tc.Tool] {
			return fmt.Errorf("tool %q is not in the closed set", tc.Tool)
		}
		counts[tc.Tool]++
		if tc.Tool == domain.ToolCompile {
			compileIdx = i
		}
		if tc.Tool == domain.ToolGenerateChart {
			if err := validateChartCall(req, tc); err != nil {
				return err
			}
		}
	}

	if counts[domain.ToolCompile] != 1 {
		return fmt.Errorf("expected exactly one compile call, found %d", counts[domain.ToolCompile])
	}
	if compileIdx != n-1 {
		return fmt.Errorf("compile must be the last tool call")
	}

	switch req.Mode {
	case domain.ModeResearch:
		cap := researchSearchCap[req.Depth]
		if counts[domain.ToolSearchWeb] > cap {
			return fmt.Errorf("search_web count %d exceeds cap %d for depth %s", counts[domain.ToolSearchWeb], cap, req.Depth)
		}
		if counts[domain.ToolAnalyzeDocuments] > 1 {
			return fmt.Errorf("analyze_documents count %d exceeds 1", counts[domain.ToolAnalyzeDocuments])
		}
		if len(req.Files) == 0 && counts[domain.ToolAnalyzeDocuments] > 0 {
			return fmt.Errorf("analyze_documents present with no files")
		}
	case domain.ModeReport:
		if counts[domain.ToolSearchWeb] > 2 {
			return fmt.Errorf("search_web count %d exceeds cap 2", counts[domain.ToolSearchWeb])
		}
		if counts[domain.ToolGenerateChart] != len(req.ChartKinds) {
			return fmt.Errorf("generate_chart count %d does not match requested chart kinds %d", counts[domain.ToolGenerateChart], len(req.ChartKinds))
		}
		r := reportSectionRange[req.Depth]
		if counts[domain.ToolDraftSection] < r[0] || counts[domain.ToolDraftSection] > r[1] {
			return fmt.Errorf("draft_section count %d outside range [%d,%d] for depth %s", counts[domain.ToolDraftSection], r[0], r[1], req.Depth)
		}
	case domain.ModeTemplate:
		sections, ok := TemplateCatalog[req.TemplateType]
		if !ok {
			return fmt.Errorf("unknown templateType %q", req.TemplateType)
		}
		if counts[domain.ToolDraftSection] != len(sections) {
			return fmt.Errorf("draft_section count %d does not match template section count %d", counts[domain.ToolDraftSection], len(sections))
		}
		if counts[domain.ToolSearchWeb] > 1 {
			return fmt.Errorf("search_web count %d exceeds cap 1", counts[domain.ToolSearchWeb])
		}
	case domain.ModeCharts:
		if counts[domain.ToolDraftSection] > 0 {
			return fmt.Errorf("charts mode must not draft sections")
		}
		if counts[domain.ToolSearchWeb] > 1 {
			return fmt.Errorf("search_web count %d exceeds cap 1", counts[domain.ToolSearchWeb])
		}
	case domain.ModePlan:
		if counts[domain.ToolDraftSection] != len(PlanCanonicalSections) {
			return fmt.Errorf("draft_section count %d does not match canonical plan sections %d", counts[domain.ToolDraftSection], len(PlanCanonicalSections))
		}
		if counts[domain.ToolSearchWeb] > 2 {
			return fmt.Errorf("search_web count %d exceeds cap 2", counts[domain.ToolSearchWeb])
		}
	}

	return nil
}

func validateChartCall(req Request, tc domain.ToolCall) error {
	raw, _ := tc.Parameters["chartKind"].(string)
	kind, ok := domain.NormalizeChartKind(raw)
	if !ok {
		return fmt.Errorf("generate_chart.parameters.chartKind %q is not a recognized kind", raw)
	}
	requested := false
	for _, k := range req.ChartKinds {
		if k == kind {
			requested = true
			break
		}
	}
	if !requested {
		return fmt.Errorf("generate_chart.parameters.chartKind %q was not requested for this run", kind)
	}
	return nil
}
