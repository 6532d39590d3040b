// Package domain holds the entity model shared by every component: Run,
// Activity, Plan, ToolCall, Finding, and Source.
package domain

import "time"

type Mode string

const (
	ModeResearch Mode = "research"
	ModeReport   Mode = "report"
	ModeTemplate Mode = "template"
	ModeCharts   Mode = "charts"
	ModePlan     Mode = "plan"
)

type Depth string

const (
	DepthBrief         Depth = "brief"
	DepthShort         Depth = "short"
	DepthMedium        Depth = "medium"
	DepthLong          Depth = "long"
	DepthComprehensive Depth = "comprehensive"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ChartKind is the closed set of ~18 renderable chart kinds.
type ChartKind string

const (
	ChartLine        ChartKind = "line"
	ChartBar         ChartKind = "bar"
	ChartArea        ChartKind = "area"
	ChartPie         ChartKind = "pie"
	ChartScatter     ChartKind = "scatter"
	ChartBubble      ChartKind = "bubble"
	ChartFunnel      ChartKind = "funnel"
	ChartHeatmap     ChartKind = "heatmap"
	ChartRadar       ChartKind = "radar"
	ChartSankey      ChartKind = "sankey"
	ChartSunburst    ChartKind = "sunburst"
	ChartTreemap     ChartKind = "treemap"
	ChartCandlestick ChartKind = "candlestick"
	ChartFlow        ChartKind = "flow"
	ChartGantt       ChartKind = "gantt"
	ChartStackedbar  ChartKind = "stackedbar"
	ChartThemeriver  ChartKind = "themeriver"
	ChartWordcloud   ChartKind = "wordcloud"
)

// chartAliases maps loosely-specified input spellings onto the closed set.
var chartAliases = map[string]ChartKind{
	"stackbar":    ChartStackedbar,
	"stacked_bar": ChartStackedbar,
	"theme river": ChartThemeriver,
	"theme_river": ChartThemeriver,
	"word cloud":  ChartWordcloud,
	"word_cloud":  ChartWordcloud,
}

var validChartKinds = map[ChartKind]bool{
	ChartLine: true, ChartBar: true, ChartArea: true, ChartPie: true,
	ChartScatter: true, ChartBubble: true, ChartFunnel: true, ChartHeatmap: true,
	ChartRadar: true, ChartSankey: true, ChartSunburst: true, ChartTreemap: true,
	ChartCandlestick: true, ChartFlow: true, ChartGantt: true, ChartStackedbar: true,
	ChartThemeriver: true, ChartWordcloud: true,
}

// NormalizeChartKind resolves aliases and reports whether the result is a
// member of the closed set.
func NormalizeChartKind(raw string) (ChartKind, bool) {
	if alias, ok := chartAliases[raw]; ok {
		return alias, true
	}
	k := ChartKind(raw)
	return k, validChartKinds[k]
}

type FileInput struct {
	UploadID string
	FileName string
	Content  string
}

type ChartArtifact struct {
	URL    string
	Title  string
	Status string
}

// Run is one user request.
type Run struct {
	ID     string
	UserID string
	OrgID  string
	Mode   Mode
	Goal   string

	Depth        Depth
	Focus        string
	TemplateType string
	ChartTypes   []ChartKind
	PlanFormat   string

	Files []FileInput

	Status Status

	Plan *Plan

	Findings []Finding
	Sources  []Source

	FinalContent   string
	ChartArtifacts map[ChartKind]ChartArtifact

	ErrorKind    string
	ErrorMessage string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	RegeneratedFrom string
	ExecutionCounts map[string]int
}

// FindingOrigin tags where a Finding came from.
type FindingOrigin string

const (
	OriginDocument     FindingOrigin = "document"
	OriginWebSearch    FindingOrigin = "webSearch"
	OriginLLMSynthesis FindingOrigin = "llmSynthesis"
)

type Finding struct {
	Text      string
	Origin    FindingOrigin
	SourceRef string
}

type Source struct {
	URL      string
	FileName string
	Title    string
	Origin   FindingOrigin
}

// Tool is the closed set of capabilities a ToolCall may dispatch to.
type Tool string

const (
	ToolAnalyzeDocuments Tool = "analyze_documents"
	ToolSearchWeb        Tool = "search_web"
	ToolGenerateChart    Tool = "generate_chart"
	ToolDraftSection     Tool = "draft_section"
	ToolCompile          Tool = "compile"
)

type ToolCall struct {
	Tool       Tool
	Parameters map[string]interface{}
	Reasoning  string
	DependsOn  []int
}

type Understanding struct {
	CoreSubject string
	UserGoal    string
	KeyTopics   []string
	DataGaps    []string
}

type Plan struct {
	Understanding Understanding
	ToolCalls     []ToolCall
}

// ActivityKind is the closed set of activity event kinds.
type ActivityKind string

const (
	ActivityRunInit        ActivityKind = "run.init"
	ActivityThinking       ActivityKind = "thinking"
	ActivityToolCall       ActivityKind = "tool.call"
	ActivityToolResult     ActivityKind = "tool.result"
	ActivityToolError      ActivityKind = "tool.error"
	ActivitySectionDrafted ActivityKind = "section.drafted"
	ActivityRunProgress    ActivityKind = "run.progress"
	ActivityRunCompleted   ActivityKind = "run.completed"
	ActivityRunFailed      ActivityKind = "run.failed"
	ActivityRunCancelled   ActivityKind = "run.cancelled"
	ActivityHeartbeat      ActivityKind = "heartbeat"
)

// Activity is one append-only event row; (RunID, Seq) is the primary key.
type Activity struct {
	RunID     string
	Seq       int64
	Kind      ActivityKind
	Payload   map[string]interface{}
	Timestamp time.Time
}
