package planner

import (
	"testing"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

func validUnderstanding() domain.Plan {
	return domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "widgets"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.ToolCompile},
		},
	}
}

func TestValidatePlanRejectsEmptyUnderstanding(t *testing.T) {
	plan := validUnderstanding()
	plan.Understanding = domain.Understanding{}
	req := Request{Mode: domain.ModeResearch}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error for empty understanding")
	}
}

func TestValidatePlanRequiresExactlyOneCompileAsLast(t *testing.T) {
	plan := domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "x"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.ToolCompile},
			{Tool: domain.ToolSearchWeb},
		},
	}
	req := Request{Mode: domain.ModeResearch, Depth: domain.DepthBrief}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error when compile is not last")
	}
}

func TestValidatePlanRejectsUnknownTool(t *testing.T) {
	plan := domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "x"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.Tool("not_a_real_tool")},
			{Tool: domain.ToolCompile},
		},
	}
	req := Request{Mode: domain.ModeResearch, Depth: domain.DepthBrief}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestValidatePlanResearchSearchCap(t *testing.T) {
	plan := domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "x"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.ToolSearchWeb},
			{Tool: domain.ToolSearchWeb},
			{Tool: domain.ToolCompile},
		},
	}
	req := Request{Mode: domain.ModeResearch, Depth: domain.DepthBrief}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error: depth brief caps search_web at 1")
	}
}

func TestValidatePlanResearchAnalyzeDocumentsNeedsFiles(t *testing.T) {
	plan := domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "x"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.ToolAnalyzeDocuments},
			{Tool: domain.ToolCompile},
		},
	}
	req := Request{Mode: domain.ModeResearch, Depth: domain.DepthBrief}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error: analyze_documents with no files")
	}
}

func TestValidatePlanTemplateUnknownType(t *testing.T) {
	plan := validUnderstanding()
	req := Request{Mode: domain.ModeTemplate, TemplateType: "not_a_template"}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error for unknown templateType")
	}
}

func TestValidatePlanTemplateSectionCountMustMatch(t *testing.T) {
	sections := TemplateCatalog["executive_brief"]
	calls := []domain.ToolCall{{Tool: domain.ToolDraftSection}} // only 1, catalog has 4
	calls = append(calls, domain.ToolCall{Tool: domain.ToolCompile})
	plan := domain.Plan{Understanding: domain.Understanding{CoreSubject: "x"}, ToolCalls: calls}
	req := Request{Mode: domain.ModeTemplate, TemplateType: "executive_brief"}
	if err := validatePlan(req, plan); err == nil {
		t.Fatalf("expected an error: section count mismatch (catalog has %d)", len(sections))
	}
}

func TestValidatePlanChartsModeForbidsDraftSection(t *testing.T) {
	plan := domain.Plan{
		Understanding: domain.Understanding{CoreSubject: "x"},
		ToolCalls: []domain.ToolCall{
			{Tool: domain.ToolDraftSection},
			{Tool: domain.ToolCompile},
		},
	}
	req := Request{Mode: domain.ModeCharts}
	if err := validatePlan(req, plan); err == nil {
		t.Fatal("expected an error: charts mode must not draft sections")
	}
}

func TestValidateChartCallRequiresRequestedKind(t *testing.T) {
	req := Request{ChartKinds: []domain.ChartKind{domain.ChartBar}}
	tc := domain.ToolCall{Parameters: map[string]interface{}{"chartKind": "pie"}}
	if err := validateChartCall(req, tc); err == nil {
		t.Fatal("expected an error: pie was not requested")
	}

	tc = domain.ToolCall{Parameters: map[string]interface{}{"chartKind": "bar"}}
	if err := validateChartCall(req, tc); err != nil {
		t.Errorf("unexpected error for a requested kind: %v", err)
	}
}

func TestValidateChartCallUnrecognizedKind(t *testing.T) {
	req := Request{ChartKinds: []domain.ChartKind{domain.ChartBar}}
	tc := domain.ToolCall{Parameters: map[string]interface{}{"chartKind": "not-a-kind"}}
	if err := validateChartCall(req, tc); err == nil {
		t.Fatal("expected an error for an unrecognized chart kind")
	}
}
