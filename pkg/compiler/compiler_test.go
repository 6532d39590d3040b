package compiler

import (
	"strings"
	"testing"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/executor"
)

func newState() *executor.State {
	return &executor.State{
		Sections:       map[string]string{},
		ChartArtifacts: map[domain.ChartKind]domain.ChartArtifact{},
	}
}

func TestCompileResearchBrief(t *testing.T) {
	state := newState()
	state.Sections["Brief Synthesis"] = "the short version"
	state.Sources = []domain.Source{{URL: "https://a.example", Title: "A"}}

	out, err := Compile(domain.Run{Mode: domain.ModeResearch, Depth: domain.DepthBrief}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "the short version") || !strings.Contains(out, "A") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCompileResearchNonBriefOrdersSections(t *testing.T) {
	state := newState()
	state.Sections["Recommendations"] = "rec"
	state.Sections["Overview"] = "ov"

	out, err := Compile(domain.Run{Mode: domain.ModeResearch, Depth: domain.DepthMedium}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Index(out, "Overview") > strings.Index(out, "Recommendations") {
		t.Errorf("Overview should precede Recommendations in fixed order, got: %q", out)
	}
}

func TestCompileResearchEmptyFails(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModeResearch, Depth: domain.DepthMedium}, newState())
	if err == nil {
		t.Fatal("expected an error for no content")
	}
}

func TestCompileReportRequiresExecutiveSummary(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModeReport}, newState())
	if err == nil {
		t.Fatal("expected an error: Executive Summary missing")
	}
}

func TestCompileReportSortsRemainingSections(t *testing.T) {
	state := newState()
	state.Sections["Executive Summary"] = "summary"
	state.Sections["Zeta"] = "z"
	state.Sections["Alpha"] = "a"

	out, err := Compile(domain.Run{Mode: domain.ModeReport}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Index(out, "Alpha") > strings.Index(out, "Zeta") {
		t.Errorf("sections after Executive Summary should be alphabetically sorted, got: %q", out)
	}
}

func TestCompileTemplateUnknownType(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModeTemplate, TemplateType: "not_a_template"}, newState())
	if err == nil {
		t.Fatal("expected an error for unknown templateType")
	}
}

func TestCompileTemplateMissingAllSectionsFails(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModeTemplate, TemplateType: "executive_brief"}, newState())
	if err == nil {
		t.Fatal("expected an error when no template sections were drafted")
	}
}

func TestCompileTemplateSuccess(t *testing.T) {
	state := newState()
	state.Sections["Overview"] = "ov"
	state.Sections["Key Findings"] = "kf"
	state.Sections["Strategic Implications"] = "si"
	state.Sections["Recommendations"] = "rec"

	out, err := Compile(domain.Run{Mode: domain.ModeTemplate, TemplateType: "executive_brief"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Executive Brief") {
		t.Errorf("expected a title derived from templateType, got: %q", out)
	}
}

func TestCompileChartsEmptyFails(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModeCharts}, newState())
	if err == nil {
		t.Fatal("expected an error for no chart artifacts")
	}
}

func TestCompileChartsSuccess(t *testing.T) {
	state := newState()
	state.ChartArtifacts[domain.ChartBar] = domain.ChartArtifact{URL: "https://x/img.png", Status: "completed"}

	out, err := Compile(domain.Run{Mode: domain.ModeCharts}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "img.png") {
		t.Errorf("expected the chart URL in output, got: %q", out)
	}
}

func TestCompilePlanEmptyFails(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.ModePlan}, newState())
	if err == nil {
		t.Fatal("expected an error for no plan sections")
	}
}

func TestCompileUnknownModeFails(t *testing.T) {
	_, err := Compile(domain.Run{Mode: domain.Mode("not_a_mode")}, newState())
	if err == nil {
		t.Fatal("expected an error for unknown mode")
	}
}
