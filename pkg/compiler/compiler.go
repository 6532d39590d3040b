// Package compiler is the mode compiler: assembles the accumulated
// findings/sections/chart artifacts into the final markdown artifact per
// mode-specific rules. Every mode passes the entire findings corpus to
// each section-drafting call — truncation is never performed here.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/executor"
	"github.com/replicatedhq/chartsmith/pkg/planner"
)

// Compile produces the final markdown for run, using the executor's
// accumulated state. It is the only fatal failure point besides the
// planner: a compile error propagates to the run manager as
// errs.KindCompileFailed.
func Compile(run domain.Run, state *executor.State) (string, error) {
	switch run.Mode {
	case domain.ModeResearch:
		return compileResearch(run, state)
	case domain.ModeReport:
		return compileReport(run, state)
	case domain.ModeTemplate:
		return compileTemplate(run, state)
	case domain.ModeCharts:
		return compileCharts(state)
	case domain.ModePlan:
		return compilePlan(state)
	default:
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("unknown mode %q", run.Mode))
	}
}

func compileResearch(run domain.Run, state *executor.State) (string, error) {
	var sb strings.Builder

	if run.Depth == domain.DepthBrief {
		if s, ok := state.Sections["Brief Synthesis"]; ok {
			sb.WriteString(s)
			sb.WriteString("\n\n")
		}
		writeSources(&sb, state.Sources)
		return sb.String(), nil
	}

	order := []string{"Overview", "Key Findings", "Analysis", "Recommendations"}
	for _, name := range order {
		content, ok := state.Sections[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, content)
	}
	if sb.Len() == 0 {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("research compile produced no content"))
	}
	fmt.Fprintf(&sb, "## Sources\n\n")
	writeSources(&sb, state.Sources)

	return sb.String(), nil
}

func compileReport(run domain.Run, state *executor.State) (string, error) {
	var sb strings.Builder

	exec, hasExec := state.Sections["Executive Summary"]
	if !hasExec {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("report compile missing required Executive Summary section"))
	}
	fmt.Fprintf(&sb, "## Executive Summary\n\n%s\n\n", exec)

	names := make([]string, 0, len(state.Sections))
	for name := range state.Sections {
		if name == "Executive Summary" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, state.Sections[name])
	}

	if len(state.ChartArtifacts) > 0 {
		fmt.Fprintf(&sb, "## Visualizations\n\n")
		writeChartArtifacts(&sb, state.ChartArtifacts)
	}

	return sb.String(), nil
}

func compileTemplate(run domain.Run, state *executor.State) (string, error) {
	sections, ok := planner.TemplateCatalog[run.TemplateType]
	if !ok {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("unknown templateType %q", run.TemplateType))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", templateTitle(run.TemplateType))
	missing := 0
	for _, name := range sections {
		content, ok := state.Sections[name]
		if !ok {
			missing++
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, content)
	}
	if missing == len(sections) {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("template compile produced no sections for %q", run.TemplateType))
	}
	return sb.String(), nil
}

func templateTitle(templateType string) string {
	words := strings.Split(templateType, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func compileCharts(state *executor.State) (string, error) {
	if len(state.ChartArtifacts) == 0 {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("charts compile produced no chart artifacts"))
	}

	kinds := make([]string, 0, len(state.ChartArtifacts))
	for k := range state.ChartArtifacts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var sb strings.Builder
	for _, k := range kinds {
		artifact := state.ChartArtifacts[domain.ChartKind(k)]
		if artifact.Status == "completed" {
			fmt.Fprintf(&sb, "![%s](%s)\n", k, artifact.URL)
		} else {
			fmt.Fprintf(&sb, "**%s:** chart generation failed (%s)\n", k, "render error")
		}
	}
	return sb.String(), nil
}

func compilePlan(state *executor.State) (string, error) {
	var sb strings.Builder
	found := 0
	for _, name := range planner.PlanCanonicalSections {
		content, ok := state.Sections[name]
		if !ok {
			continue
		}
		found++
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, content)
	}
	if found == 0 {
		return "", errs.New(errs.KindCompileFailed, fmt.Errorf("plan compile produced no sections"))
	}
	return sb.String(), nil
}

func writeSources(sb *strings.Builder, sources []domain.Source) {
	seen := map[string]bool{}
	n := 0
	for _, s := range sources {
		key := s.URL
		if key == "" {
			key = s.FileName
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		n++
		label := s.Title
		if label == "" {
			label = key
		}
		fmt.Fprintf(sb, "%d. %s\n", n, label)
	}
}

func writeChartArtifacts(sb *strings.Builder, artifacts map[domain.ChartKind]domain.ChartArtifact) {
	kinds := make([]string, 0, len(artifacts))
	for k := range artifacts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		a := artifacts[domain.ChartKind(k)]
		fmt.Fprintf(sb, "### %s\n\n", k)
		if a.Status == "completed" {
			fmt.Fprintf(sb, "![%s](%s)\n\n", k, a.URL)
		} else {
			fmt.Fprintf(sb, "_chart generation failed_\n\n")
		}
	}
}
