// Package workflow implements the Universal Agent: a specialization that
// ignores the free reasoning modes of pkg/reasoning and instead runs a
// fixed four-phase pipeline — plan, search, analyze, report — suited to
// research-style tasks where the shape of the work is always the same.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/agentcore/internal/jsonutil"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// Phase is the externally observable stage of a Run call, used for
// progress reporting by a caller polling UniversalAgent.Phase.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseSearching Phase = "searching"
	PhaseAnalyzing Phase = "analyzing"
	PhaseReporting Phase = "reporting"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// ErrUnparsablePlan is returned when the model's plan response cannot be
// recovered as JSON even after the fenced-code-stripping and
// first-object-extraction fallbacks.
var ErrUnparsablePlan = fmt.Errorf("workflow: unparsable plan")

const (
	retryAttempts  = 3
	retryBaseDelay = 2 * time.Second
	topResultsPerQuery = 3
	snippetClipLen     = 280
)

// ReportStructure is the model-proposed shape of the final report.
type ReportStructure struct {
	Sections  []string `mapstructure:"sections" json:"sections"`
	KeyPoints []string `mapstructure:"keyPoints" json:"keyPoints"`
}

// Plan is the model's JSON response to the planning phase.
type Plan struct {
	TaskObjective   string          `mapstructure:"taskObjective" json:"taskObjective"`
	SearchKeywords  []string        `mapstructure:"searchKeywords" json:"searchKeywords"`
	SearchTopics    []string        `mapstructure:"searchTopics" json:"searchTopics"`
	AnalysisFocus   []string        `mapstructure:"analysisFocus" json:"analysisFocus"`
	ReportStructure ReportStructure `mapstructure:"reportStructure" json:"reportStructure"`
	EstimatedSteps  int             `mapstructure:"estimatedSteps" json:"estimatedSteps"`
}

// SearchRecord is one search-and-analyze tool call made during the search
// phase. Err is set, and Result left empty, when the individual call
// failed — a failure is recorded, not propagated.
type SearchRecord struct {
	Query     string
	Result    string
	Err       string
	Timestamp time.Time
}

// Config configures a UniversalAgent.
type Config struct {
	Name  string
	LLM   *llm.Gateway
	Tools *tool.Registry

	// SearchToolName is the registered tool invoked once per search
	// keyword/topic during the search phase. It must accept a "query"
	// string argument.
	SearchToolName string
}

// UniversalAgent runs the plan -> search -> analyze -> report pipeline for
// one task at a time, exposing its current phase for progress reporting.
type UniversalAgent struct {
	name           string
	llmGateway     *llm.Gateway
	tools          *tool.Registry
	searchToolName string

	mu      sync.Mutex
	phase   Phase
	plan    Plan
	records []SearchRecord
	analysis string
	report   string
}

// New creates a UniversalAgent.
func New(cfg Config) (*UniversalAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow: name is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("workflow: llm gateway is required")
	}
	if cfg.SearchToolName == "" {
		return nil, fmt.Errorf("workflow: search tool name is required")
	}
	return &UniversalAgent{
		name:           cfg.Name,
		llmGateway:     cfg.LLM,
		tools:          cfg.Tools,
		searchToolName: cfg.SearchToolName,
		phase:          PhasePlanning,
	}, nil
}

// Phase reports the pipeline's current stage.
func (u *UniversalAgent) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

func (u *UniversalAgent) setPhase(p Phase) {
	u.mu.Lock()
	u.phase = p
	u.mu.Unlock()
}

// Run drives the full pipeline for one task and returns the final Markdown
// report.
func (u *UniversalAgent) Run(ctx context.Context, taskInput string) (string, error) {
	plan, err := u.planPhase(ctx, taskInput)
	if err != nil {
		u.setPhase(PhaseError)
		return "", err
	}
	u.mu.Lock()
	u.plan = plan
	u.mu.Unlock()

	records := u.searchPhase(ctx, plan)
	u.mu.Lock()
	u.records = records
	u.mu.Unlock()

	analysis, err := u.analyzePhase(ctx, plan, records)
	if err != nil {
		u.setPhase(PhaseError)
		return "", err
	}
	u.mu.Lock()
	u.analysis = analysis
	u.mu.Unlock()

	report, err := u.reportPhase(ctx, plan, analysis)
	if err != nil {
		u.setPhase(PhaseError)
		return "", err
	}
	u.mu.Lock()
	u.report = report
	u.mu.Unlock()

	u.setPhase(PhaseCompleted)
	return report, nil
}

// planPhase asks the model for a structured plan. The response is cleaned
// of fenced-code markers, then parsed leniently via jsonutil.ExtractJSON
// into a raw map, then decoded into Plan via mapstructure so field name
// drift in the model's JSON (camelCase vs. not) is tolerated the same way
// it would be for any other model-produced structure in this codebase.
func (u *UniversalAgent) planPhase(ctx context.Context, taskInput string) (Plan, error) {
	u.setPhase(PhasePlanning)

	prompt := buildPlanPrompt(taskInput)
	content, err := generateWithRetry(ctx, u.llmGateway, prompt, llm.GenerateOptions{})
	if err != nil {
		return Plan{}, newComponentError("plan", "generating plan", err)
	}

	var raw map[string]any
	if err := jsonutil.ExtractJSON(content, &raw); err != nil {
		return Plan{}, ErrUnparsablePlan
	}

	var plan Plan
	if err := mapstructure.Decode(raw, &plan); err != nil {
		return Plan{}, ErrUnparsablePlan
	}
	return plan, nil
}

// searchPhase calls the configured search-and-analyze tool once per
// keyword and per topic in the plan. Individual tool failures are
// recorded on the SearchRecord, not propagated, so a single bad query
// never aborts the rest of the search phase.
func (u *UniversalAgent) searchPhase(ctx context.Context, plan Plan) []SearchRecord {
	u.setPhase(PhaseSearching)

	queries := make([]string, 0, len(plan.SearchKeywords)+len(plan.SearchTopics))
	queries = append(queries, plan.SearchKeywords...)
	queries = append(queries, plan.SearchTopics...)

	records := make([]SearchRecord, 0, len(queries))
	for _, q := range queries {
		rec := SearchRecord{Query: q, Timestamp: time.Now()}
		if u.tools == nil {
			rec.Err = "workflow: no tool registry configured"
			records = append(records, rec)
			continue
		}
		result, err := u.tools.Execute(ctx, u.searchToolName, map[string]any{"query": q})
		if err != nil {
			rec.Err = err.Error()
		} else {
			rec.Result = formatSearchResult(result)
		}
		records = append(records, rec)
	}
	return records
}

// analyzePhase compacts the successful search records into a bounded
// summary (clipped snippets) and asks the model for a structured
// analysis focused on plan.AnalysisFocus.
func (u *UniversalAgent) analyzePhase(ctx context.Context, plan Plan, records []SearchRecord) (string, error) {
	u.setPhase(PhaseAnalyzing)

	summary := boundedSummary(records)
	prompt := buildAnalyzePrompt(plan, summary)

	content, err := generateWithRetry(ctx, u.llmGateway, prompt, llm.GenerateOptions{})
	if err != nil {
		return "", newComponentError("analyze", "generating analysis", err)
	}
	return content, nil
}

// reportPhase feeds the analysis back to the model with the plan's
// proposed report structure to produce the final Markdown report.
func (u *UniversalAgent) reportPhase(ctx context.Context, plan Plan, analysis string) (string, error) {
	u.setPhase(PhaseReporting)

	prompt := buildReportPrompt(plan, analysis)
	content, err := generateWithRetry(ctx, u.llmGateway, prompt, llm.GenerateOptions{})
	if err != nil {
		return "", newComponentError("report", "generating report", err)
	}
	return content, nil
}

func buildPlanPrompt(taskInput string) string {
	var b strings.Builder
	b.WriteString("You are planning a research task. Respond with JSON only:\n")
	b.WriteString(`{"taskObjective": "...", "searchKeywords": ["..."], "searchTopics": ["..."], "analysisFocus": ["..."], "reportStructure": {"sections": ["..."], "keyPoints": ["..."]}, "estimatedSteps": 0}`)
	b.WriteString("\n\nTask: ")
	b.WriteString(taskInput)
	return b.String()
}

func buildAnalyzePrompt(plan Plan, summary string) string {
	var b strings.Builder
	b.WriteString("Analyze the following search results with a focus on: ")
	b.WriteString(strings.Join(plan.AnalysisFocus, ", "))
	b.WriteString("\n\n")
	b.WriteString(summary)
	return b.String()
}

func buildReportPrompt(plan Plan, analysis string) string {
	var b strings.Builder
	b.WriteString("Write a Markdown report for the objective: ")
	b.WriteString(plan.TaskObjective)
	b.WriteString("\nUse these sections: ")
	b.WriteString(strings.Join(plan.ReportStructure.Sections, ", "))
	b.WriteString("\nHighlight these key points: ")
	b.WriteString(strings.Join(plan.ReportStructure.KeyPoints, ", "))
	b.WriteString("\n\nAnalysis:\n")
	b.WriteString(analysis)
	return b.String()
}

// boundedSummary renders at most topResultsPerQuery successful records
// into one text block, each result clipped to snippetClipLen, for use as
// bounded context in the analyze-phase prompt.
func boundedSummary(records []SearchRecord) string {
	var b strings.Builder
	kept := 0
	for _, r := range records {
		if r.Err != "" {
			continue
		}
		if kept >= topResultsPerQuery {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Query, clipSnippet(r.Result, snippetClipLen))
		kept++
	}
	if kept == 0 {
		b.WriteString("(no successful search results)\n")
	}
	return b.String()
}

func clipSnippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatSearchResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case []string:
		if len(v) > topResultsPerQuery {
			v = v[:topResultsPerQuery]
		}
		return strings.Join(v, "; ")
	case []any:
		parts := make([]string, 0, len(v))
		for i, item := range v {
			if i >= topResultsPerQuery {
				break
			}
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// generateWithRetry mirrors the Plan-and-Solve phase-boundary retry in
// pkg/reasoning: transient LLM failures (ErrLLMUnavailable) between workflow
// phases get up to retryAttempts tries with exponential backoff before the
// phase fails; any other error fails the phase at once.
func generateWithRetry(ctx context.Context, gw *llm.Gateway, prompt string, opts llm.GenerateOptions) (string, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		res, err := gw.Generate(ctx, prompt, opts)
		if err == nil {
			return res.Content, nil
		}
		if !errors.Is(err, llm.ErrLLMUnavailable) {
			return "", err
		}
		lastErr = err
		if attempt < retryAttempts-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * retryBaseDelay
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", lastErr
}
