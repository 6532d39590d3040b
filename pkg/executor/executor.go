// Package executor is the tool executor: dispatches a Plan's tool
// calls strictly sequentially, emitting activities at every step and
// recovering per-tool failures locally so one bad search never aborts a
// run. One goroutine per run processes one step at a time, rather than a
// worker pool fanning out across concurrent steps.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/replicatedhq/chartsmith/pkg/capability/chart"
	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/capability/search"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"github.com/replicatedhq/chartsmith/pkg/metrics"
)

// ActivityAppender is the subset of the run store's contract the executor
// needs, narrowed so tests can supply an in-memory fake.
type ActivityAppender interface {
	AppendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) (domain.Activity, error)
}

// State is the executor's accumulating in-memory view of a run, handed to
// the compiler once every tool call has been attempted.
type State struct {
	Findings       []domain.Finding
	Sources        []domain.Source
	Sections       map[string]string
	ChartArtifacts map[domain.ChartKind]domain.ChartArtifact
}

func newState() *State {
	return &State{
		Sections:       map[string]string{},
		ChartArtifacts: map[domain.ChartKind]domain.ChartArtifact{},
	}
}

// Executor dispatches one run's tool calls.
type Executor struct {
	llmClient    llm.Client
	searchClient search.Client
	chartClient  chart.Client
	store        ActivityAppender
	cfg          config.Config
	limiter      *rate.Limiter
}

func New(cfg config.Config, llmClient llm.Client, searchClient search.Client, chartClient chart.Client, store ActivityAppender) *Executor {
	ratePerMinute := cfg.CapabilityRatePerMinute
	if ratePerMinute <= 0 {
		ratePerMinute = 120
	}
	return &Executor{
		llmClient: llmClient, searchClient: searchClient, chartClient: chartClient, store: store, cfg: cfg,
		// one token bucket shared by every run this Executor drives, one
		// token per dispatched tool call; a run never waits for a token
		// past its own deadline, since Wait is bounded by ctx.
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
	}
}

// throttle blocks until the local token bucket admits the next outbound
// capability call, bounded by ctx so a cancelled/expired run never waits
// past its own deadline.
func (e *Executor) throttle(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return errs.New(errs.KindCancelled, err)
	}
	return nil
}

// Run executes plan.ToolCalls in order against runID, honoring ctx
// cancellation at each step boundary. It returns the accumulated State;
// the compile tool call is skipped here — the run manager invokes the mode
// compiler directly once Run returns, since compilation failure is fatal
// and must be handled at that layer, not recovered locally like every
// other tool.
func (e *Executor) Run(ctx context.Context, runID string, req domain.Run, plan domain.Plan) (*State, error) {
	state := newState()
	done := map[int]bool{}
	total := len(plan.ToolCalls)

	for i, tc := range plan.ToolCalls {
		if ctx.Err() != nil {
			return state, errs.New(errs.KindCancelled, ctx.Err())
		}

		if !dependenciesSatisfied(tc.DependsOn, done) {
			// advisory only per spec; proceed in insertion order
			// regardless, but log the anomaly for diagnostics.
			logger.Warn("tool call dependency not yet satisfied, proceeding sequentially",
				zap.String("runId", runID), zap.Int("step", i))
		}

		e.appendActivity(ctx, runID, domain.ActivityToolCall, map[string]interface{}{
			"tool": string(tc.Tool), "parameters": tc.Parameters, "reasoning": tc.Reasoning,
		})

		if tc.Tool == domain.ToolCompile {
			done[i] = true
			break
		}

		summary, counts, artifactKey, stepErr := e.dispatch(ctx, req, state, tc)
		if stepErr != nil {
			kind := errs.KindToolUpstream
			if re, ok := errs.As(stepErr); ok {
				kind = re.Kind
			}
			metrics.ToolCallTotal.WithLabelValues(string(tc.Tool), "error").Inc()
			e.appendActivity(ctx, runID, domain.ActivityToolError, map[string]interface{}{
				"tool": string(tc.Tool), "errorKind": string(kind), "message": stepErr.Error(),
			})
		} else {
			metrics.ToolCallTotal.WithLabelValues(string(tc.Tool), "ok").Inc()
			payload := map[string]interface{}{"tool": string(tc.Tool), "summary": summary}
			if counts != nil {
				payload["counts"] = counts
			}
			if artifactKey != "" {
				payload["artifactKey"] = artifactKey
			}
			e.appendActivity(ctx, runID, domain.ActivityToolResult, payload)
		}

		done[i] = true
		e.appendActivity(ctx, runID, domain.ActivityRunProgress, map[string]interface{}{"completed": i + 1, "total": total})
	}

	return state, nil
}

func dependenciesSatisfied(deps []int, done map[int]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

func (e *Executor) appendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) {
	if _, err := e.store.AppendActivity(ctx, runID, kind, payload); err != nil {
		logger.Error(fmt.Errorf("append activity %s for run %s: %w", kind, runID, err))
	}
}

// dispatch routes a single non-compile tool call to its handler. The
// returned summary/counts/artifactKey feed the tool.result activity; the
// full LLM output is never logged there.
func (e *Executor) dispatch(ctx context.Context, run domain.Run, state *State, tc domain.ToolCall) (string, map[string]int, string, error) {
	if err := e.throttle(ctx); err != nil {
		return "", nil, "", err
	}

	switch tc.Tool {
	case domain.ToolAnalyzeDocuments:
		return e.analyzeDocuments(ctx, run, state)
	case domain.ToolSearchWeb:
		return e.searchWeb(ctx, tc, state)
	case domain.ToolGenerateChart:
		return e.generateChart(ctx, tc, state)
	case domain.ToolDraftSection:
		return e.draftSection(ctx, run, tc, state)
	default:
		return "", nil, "", errs.New(errs.KindInternal, fmt.Errorf("unhandled tool %q", tc.Tool))
	}
}

func (e *Executor) analyzeDocuments(ctx context.Context, run domain.Run, state *State) (string, map[string]int, string, error) {
	if len(run.Files) == 0 {
		return "no files to analyze", map[string]int{"findings": 0, "sources": 0}, "", nil
	}

	var sb strings.Builder
	for _, f := range run.Files {
		fmt.Fprintf(&sb, "### %s\n%s\n---\n", f.FileName, f.Content)
	}

	prompt := fmt.Sprintf(
		"Extract the concrete, factual content from the following uploaded documents relevant to: %q.\n"+
			"Respond with one fact per line, no numbering, no preamble.\n\n%s", run.Goal, sb.String())

	stop := metrics.ObserveCapability("llm")
	result, err := e.llmClient.Ask(ctx, []llm.Message{{Role: "user", Content: prompt}}, 0.1, e.cfg.LLMTimeout)
	stop()
	if err != nil {
		return "", nil, "", err
	}

	lines := nonTrivialLines(result.Content)
	for _, line := range lines {
		state.Findings = append(state.Findings, domain.Finding{Text: line, Origin: domain.OriginDocument})
	}
	for _, f := range run.Files {
		state.Sources = append(state.Sources, domain.Source{FileName: f.FileName, Origin: domain.OriginDocument})
	}

	return fmt.Sprintf("extracted %d findings from %d files", len(lines), len(run.Files)),
		map[string]int{"findings": len(lines), "sources": len(run.Files)}, "", nil
}

func nonTrivialLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if len(line) > 3 {
			out = append(out, line)
		}
	}
	return out
}

func (e *Executor) searchWeb(ctx context.Context, tc domain.ToolCall, state *State) (string, map[string]int, string, error) {
	query, _ := tc.Parameters["query"].(string)
	if query == "" {
		return "", nil, "", errs.New(errs.KindToolUpstream, fmt.Errorf("search_web called without a query"))
	}

	stop := metrics.ObserveCapability("search")
	result, err := e.searchClient.Search(ctx, query, e.cfg.SearchTimeout)
	stop()
	if err != nil {
		return "", nil, "", err
	}

	for _, f := range result.Findings {
		state.Findings = append(state.Findings, domain.Finding{Text: f, Origin: domain.OriginWebSearch})
	}
	state.Sources = mergeDedupSources(state.Sources, result.Sources)

	return fmt.Sprintf("search %q returned %d findings", query, len(result.Findings)),
		map[string]int{"findings": len(result.Findings), "sources": len(result.Sources)}, "", nil
}

func mergeDedupSources(existing []domain.Source, urls []string) []domain.Source {
	seen := map[string]bool{}
	for _, s := range existing {
		seen[s.URL] = true
	}
	for _, u := range urls {
		if !seen[u] {
			existing = append(existing, domain.Source{URL: u, Origin: domain.OriginWebSearch})
			seen[u] = true
		}
	}
	return existing
}

func (e *Executor) generateChart(ctx context.Context, tc domain.ToolCall, state *State) (string, map[string]int, string, error) {
	raw, _ := tc.Parameters["chartKind"].(string)
	kind, ok := domain.NormalizeChartKind(raw)
	if !ok {
		return "", nil, "", errs.New(errs.KindToolUpstream, fmt.Errorf("unrecognized chart kind %q", raw))
	}

	payload, err := e.buildChartPayload(ctx, kind, state)
	if err != nil {
		// LLM failed to produce a payload; fall back to a deterministic
		// sample so a chart is always rendered.
		payload = samplePayload(kind)
	}

	stop := metrics.ObserveCapability("chart")
	result, err := e.chartClient.Render(ctx, kind, payload, e.cfg.ChartTimeout)
	stop()
	if err != nil {
		state.ChartArtifacts[kind] = domain.ChartArtifact{Status: "failed"}
		return "", nil, "", err
	}

	state.ChartArtifacts[kind] = domain.ChartArtifact{URL: result.ImageURL, Status: "completed"}
	return fmt.Sprintf("rendered %s chart", kind), nil, string(kind), nil
}

func (e *Executor) buildChartPayload(ctx context.Context, kind domain.ChartKind, state *State) (map[string]interface{}, error) {
	findings := summarizeFindings(state.Findings)
	prompt := fmt.Sprintf(
		"Given these findings, produce a JSON object suitable as chart data for a %q chart. "+
			"Respond with JSON only.\n\nFindings:\n%s", kind, findings)

	stop := metrics.ObserveCapability("llm")
	result, err := e.llmClient.Ask(ctx, []llm.Message{{Role: "user", Content: prompt}}, 0.2, e.cfg.LLMTimeout)
	stop()
	if err != nil {
		return nil, err
	}

	payload, err := decodeJSONObject(result.Content)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// samplePayload is the deterministic fallback payload per chart kind so a
// chart is always rendered even when the LLM cannot produce one.
func samplePayload(kind domain.ChartKind) map[string]interface{} {
	return map[string]interface{}{
		"chartKind": string(kind),
		"sample":    true,
		"series": []map[string]interface{}{
			{"label": "A", "value": 30},
			{"label": "B", "value": 45},
			{"label": "C", "value": 25},
		},
	}
}

func (e *Executor) draftSection(ctx context.Context, run domain.Run, tc domain.ToolCall, state *State) (string, map[string]int, string, error) {
	sectionName, _ := tc.Parameters["sectionName"].(string)
	if sectionName == "" {
		return "", nil, "", errs.New(errs.KindToolUpstream, fmt.Errorf("draft_section called without a sectionName"))
	}

	content, err := e.draftSectionOnce(ctx, run, sectionName, state, false)
	if err == nil && strings.TrimSpace(content) == "" {
		// one retry with a shorter prompt when the first draft is unusable
		// (empty); an error from the LLM call itself is not retried.
		content, err = e.draftSectionOnce(ctx, run, sectionName, state, true)
	}
	if err != nil {
		return "", nil, "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", nil, "", errs.New(errs.KindToolUpstream, fmt.Errorf("empty section draft for %q", sectionName))
	}

	state.Sections[sectionName] = content
	e.appendActivity(ctx, run.ID, domain.ActivitySectionDrafted, map[string]interface{}{
		"sectionName": sectionName, "charCount": len(content),
	})
	return fmt.Sprintf("drafted section %q", sectionName), nil, sectionName, nil
}

func (e *Executor) draftSectionOnce(ctx context.Context, run domain.Run, sectionName string, state *State, short bool) (string, error) {
	otherSections := make([]string, 0, len(state.Sections))
	for name := range state.Sections {
		otherSections = append(otherSections, name)
	}
	sort.Strings(otherSections)

	var prompt string
	if short {
		prompt = fmt.Sprintf("Write the %q section for a %s about %q in 2-3 concise sentences, markdown, grounded only in the findings below.\nFindings:\n%s",
			sectionName, run.Mode, run.Goal, summarizeFindings(state.Findings))
	} else {
		prompt = fmt.Sprintf(
			"Write the %q section for a %s about %q.\n"+
				"This section must cover only its own responsibility and must not repeat material from these other sections: %s.\n"+
				"Respond with markdown body content only, no heading line.\n\nFindings:\n%s\n\nSources:\n%s",
			sectionName, run.Mode, run.Goal, strings.Join(otherSections, ", "),
			summarizeFindings(state.Findings), summarizeSources(state.Sources))
	}

	stop := metrics.ObserveCapability("llm")
	result, err := e.llmClient.Ask(ctx, []llm.Message{{Role: "user", Content: prompt}}, 0.4, e.cfg.LLMTimeout)
	stop()
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// summarizeFindings renders the entire accumulated findings corpus; every
// section-drafting call must ground on all of it, never a truncated subset.
func summarizeFindings(findings []domain.Finding) string {
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s\n", f.Text)
	}
	return sb.String()
}

func decodeJSONObject(raw string) (map[string]interface{}, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, errs.New(errs.KindToolUpstream, fmt.Errorf("invalid chart payload json: %w", err))
	}
	return out, nil
}

func summarizeSources(sources []domain.Source) string {
	var sb strings.Builder
	for _, s := range sources {
		if s.URL != "" {
			fmt.Fprintf(&sb, "- %s\n", s.URL)
		} else if s.FileName != "" {
			fmt.Fprintf(&sb, "- %s\n", s.FileName)
		}
	}
	return sb.String()
}
