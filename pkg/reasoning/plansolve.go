package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/agentcore/internal/jsonutil"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBaseDelay = 2 * time.Second
)

// analysis is the model's JSON assessment of the incoming task.
type analysis struct {
	TaskType          string   `json:"taskType"`
	Complexity        string   `json:"complexity"`
	RequiresTools     bool     `json:"requiresTools"`
	MultiStep         bool     `json:"multiStep"`
	CoreRequirements  []string `json:"coreRequirements"`
	SuggestedTools    []string `json:"suggestedTools"`
	EstimatedSteps    int      `json:"estimatedSteps"`
	Challenges        []string `json:"challenges"`
	SuccessCriteria   []string `json:"successCriteria"`
}

// planStep is one entry of the model-produced execution plan.
type planStep struct {
	StepNumber      int            `json:"stepNumber"`
	StepName        string         `json:"stepName"`
	Type            string         `json:"type"` // tool_call | reasoning | synthesis
	Description     string         `json:"description"`
	Tool            string         `json:"tool"`
	Args            map[string]any `json:"args"`
	ExpectedOutput  string         `json:"expectedOutput"`
	Dependencies    []int          `json:"dependencies"`
	FallbackOptions []string       `json:"fallbackOptions"`
}

type plan struct {
	Steps []planStep `json:"steps"`
}

type stepOutcome struct {
	content string
	failed  bool
	err     error
}

// PlanAndSolve runs the four strictly ordered phases: analyze, plan,
// execute, evaluate.
type PlanAndSolve struct{}

// NewPlanAndSolve creates a Plan-and-Solve strategy.
func NewPlanAndSolve() *PlanAndSolve {
	return &PlanAndSolve{}
}

func (s *PlanAndSolve) Run(ctx context.Context, req Request) (Result, error) {
	trace := Trace{Mode: "plan_solve", UserInput: req.UserInput}

	an := s.analyze(ctx, req, &trace)
	pl, err := s.plan(ctx, req, an, &trace)
	if err != nil {
		trace.FinalAnswer = apology
		persistTrace(req.Memory, trace)
		return Result{}, err
	}

	if err := validateDependencies(pl); err != nil {
		trace.FinalAnswer = apology
		persistTrace(req.Memory, trace)
		return Result{}, err
	}

	results := s.execute(ctx, req, pl, &trace)
	final := s.evaluate(ctx, req, pl, results, &trace)

	trace.FinalAnswer = final
	persistTrace(req.Memory, trace)
	return Result{FinalAnswer: final, Trace: trace}, nil
}

// analyze asks the model to classify the task, falling back to a keyword
// heuristic if the response does not parse.
func (s *PlanAndSolve) analyze(ctx context.Context, req Request, trace *Trace) analysis {
	prompt := fmt.Sprintf(
		"Analyze this task and respond with JSON {taskType, complexity, requiresTools, multiStep, coreRequirements, suggestedTools, estimatedSteps, challenges, successCriteria}.\nTask: %s",
		req.UserInput,
	)

	var an analysis
	content, err := generateWithRetry(ctx, req.LLM, prompt, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 1024})
	if err == nil {
		if perr := jsonutil.ExtractJSON(content, &an); perr == nil {
			trace.Steps = append(trace.Steps, Step{Kind: "analysis", Content: content})
			return an
		}
	}

	an = heuristicAnalysis(req.UserInput, req.Tools)
	trace.Steps = append(trace.Steps, Step{Kind: "analysis", Content: "heuristic fallback"})
	return an
}

func heuristicAnalysis(input string, tools *tool.Registry) analysis {
	lower := strings.ToLower(input)
	taskType := "general"
	switch {
	case strings.Contains(lower, "calculate") || strings.Contains(lower, "compute"):
		taskType = "calculation"
	case strings.Contains(lower, "search") || strings.Contains(lower, "find"):
		taskType = "search"
	case strings.Contains(lower, "summarize") || strings.Contains(lower, "summary"):
		taskType = "summarization"
	}

	var suggested []string
	if tools != nil {
		for _, t := range tools.List() {
			if strings.Contains(lower, strings.ToLower(t.DisplayName)) {
				suggested = append(suggested, t.ID)
			}
		}
	}

	return analysis{
		TaskType:       taskType,
		Complexity:     "medium",
		RequiresTools:  len(suggested) > 0,
		MultiStep:      true,
		SuggestedTools: suggested,
		EstimatedSteps: 3,
	}
}

// plan asks the model for an ordered steps[] plan.
func (s *PlanAndSolve) plan(ctx context.Context, req Request, an analysis, trace *Trace) (plan, error) {
	prompt := fmt.Sprintf(
		"Given this analysis: %+v\nProduce a JSON plan {steps:[{stepNumber, stepName, type, description, tool, args, expectedOutput, dependencies, fallbackOptions}]} for: %s",
		an, req.UserInput,
	)

	content, err := generateWithRetry(ctx, req.LLM, prompt, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return plan{}, fmt.Errorf("%w: %v", ErrUnparsablePlan, err)
	}

	var pl plan
	if perr := jsonutil.ExtractJSON(content, &pl); perr != nil {
		return plan{}, fmt.Errorf("%w: %v", ErrUnparsablePlan, perr)
	}

	trace.Steps = append(trace.Steps, Step{Kind: "plan", Content: content})
	return pl, nil
}

// validateDependencies rejects a plan containing a forward dependency
// reference: a step may only depend on a strictly earlier stepNumber.
func validateDependencies(pl plan) error {
	for _, step := range pl.Steps {
		for _, dep := range step.Dependencies {
			if dep >= step.StepNumber {
				return fmt.Errorf("%w: step %d depends on step %d", ErrInvalidPlan, step.StepNumber, dep)
			}
		}
	}
	return nil
}

// execute runs every step in declared order, substituting {step_N_result}
// placeholders and recording a soft failure when a dependency is unmet.
func (s *PlanAndSolve) execute(ctx context.Context, req Request, pl plan, trace *Trace) map[int]stepOutcome {
	results := make(map[int]stepOutcome, len(pl.Steps))

	for _, step := range pl.Steps {
		select {
		case <-ctx.Done():
			results[step.StepNumber] = stepOutcome{failed: true, err: fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())}
			continue
		default:
		}

		if missing := firstUnmetDependency(step, results); missing != 0 {
			err := fmt.Errorf("%w: step %d requires step %d", ErrUnmetDependency, step.StepNumber, missing)
			results[step.StepNumber] = s.recordFailure(step, err, trace)
			continue
		}

		args := substitutePlaceholders(step.Args, results)
		outcome := s.runStep(ctx, req, step, args)
		if outcome.failed {
			outcome = s.recordFailure(step, outcome.err, trace)
		} else {
			trace.Steps = append(trace.Steps, Step{Kind: "execute", ToolName: step.Tool, Content: outcome.content})
		}
		results[step.StepNumber] = outcome
	}

	return results
}

func firstUnmetDependency(step planStep, results map[int]stepOutcome) int {
	for _, dep := range step.Dependencies {
		out, ok := results[dep]
		if !ok || out.failed {
			return dep
		}
	}
	return 0
}

// recordFailure records the step failure; if a fallback option exists the
// failure is noted but execution proceeds (soft failure) with the fallback
// text as the step's content, otherwise the step is simply marked failed.
func (s *PlanAndSolve) recordFailure(step planStep, cause error, trace *Trace) stepOutcome {
	trace.Steps = append(trace.Steps, Step{Kind: "execute", ToolName: step.Tool, Err: cause.Error()})
	if len(step.FallbackOptions) > 0 {
		return stepOutcome{content: step.FallbackOptions[0], failed: true, err: cause}
	}
	return stepOutcome{failed: true, err: cause}
}

func (s *PlanAndSolve) runStep(ctx context.Context, req Request, step planStep, args map[string]any) stepOutcome {
	switch step.Type {
	case "tool_call":
		id, ok := req.Tools.Resolve(step.Tool)
		if !ok {
			return stepOutcome{failed: true, err: fmt.Errorf("no tool named %q is registered", step.Tool)}
		}
		out, err := req.Tools.Execute(ctx, id, args)
		if err != nil {
			return stepOutcome{failed: true, err: err}
		}
		b, _ := json.Marshal(out)
		return stepOutcome{content: string(b)}

	case "reasoning":
		prompt := fmt.Sprintf(
			"Step %q. Prior results: %v. Respond with JSON {reasoning, insights, conclusion, confidence, supporting_evidence}.\n%s",
			step.StepName, args, step.Description,
		)
		content, err := generateWithRetry(ctx, req.LLM, prompt, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 1024})
		if err != nil {
			return stepOutcome{failed: true, err: err}
		}
		return stepOutcome{content: content}

	case "synthesis":
		prompt := fmt.Sprintf(
			"Integrate these results into a final answer for the user.\nResults: %v\n%s",
			args, step.Description,
		)
		content, err := generateWithRetry(ctx, req.LLM, prompt, llm.GenerateOptions{Temperature: 0.4, MaxTokens: 2048})
		if err != nil {
			return stepOutcome{failed: true, err: err}
		}
		return stepOutcome{content: content}

	default:
		return stepOutcome{failed: true, err: fmt.Errorf("unknown step type %q", step.Type)}
	}
}

// substitutePlaceholders replaces "{step_N_result}" inside string-valued
// args with the JSON-serialized result of step N, if N has an entry.
func substitutePlaceholders(args map[string]any, results map[int]stepOutcome) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = substituteString(s, results)
			continue
		}
		out[k] = v
	}
	return out
}

func substituteString(s string, results map[int]stepOutcome) string {
	for n, outcome := range results {
		placeholder := "{step_" + strconv.Itoa(n) + "_result}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, outcome.content)
		}
	}
	return s
}

// evaluate determines the final answer and records a best-effort quality
// scorecard in the trace.
func (s *PlanAndSolve) evaluate(ctx context.Context, req Request, pl plan, results map[int]stepOutcome, trace *Trace) string {
	final := lastSuccessfulByType(pl, results, "synthesis")
	if final == "" {
		final = lastSuccessful(pl, results)
	}
	if final == "" {
		final = concatenatePartial(pl, results)
	}
	if final == "" {
		final = apology
	}

	prompt := fmt.Sprintf("Rate the quality of this answer on a 1-5 scale with JSON {score, rationale}.\nAnswer: %s", final)
	if content, err := generateWithRetry(ctx, req.LLM, prompt, llm.GenerateOptions{Temperature: 0.1, MaxTokens: 256}); err == nil {
		var scorecard map[string]any
		if jsonutil.ExtractJSON(content, &scorecard) == nil {
			trace.Steps = append(trace.Steps, Step{Kind: "evaluate", Content: content})
		}
	}

	return final
}

func lastSuccessfulByType(pl plan, results map[int]stepOutcome, stepType string) string {
	for i := len(pl.Steps) - 1; i >= 0; i-- {
		step := pl.Steps[i]
		if step.Type != stepType {
			continue
		}
		if out, ok := results[step.StepNumber]; ok && !out.failed {
			return out.content
		}
	}
	return ""
}

func lastSuccessful(pl plan, results map[int]stepOutcome) string {
	for i := len(pl.Steps) - 1; i >= 0; i-- {
		step := pl.Steps[i]
		if out, ok := results[step.StepNumber]; ok && !out.failed {
			return out.content
		}
	}
	return ""
}

func concatenatePartial(pl plan, results map[int]stepOutcome) string {
	var parts []string
	for _, step := range pl.Steps {
		out, ok := results[step.StepNumber]
		if !ok || out.content == "" {
			continue
		}
		parts = append(parts, out.content)
	}
	return strings.Join(parts, "\n")
}

// generateWithRetry retries an ErrLLMUnavailable failure, making up to
// defaultRetryAttempts attempts with exponential backoff, the retry policy
// specified for Plan-and-Solve's phase boundaries. Any other error is
// returned at once.
func generateWithRetry(ctx context.Context, gw *llm.Gateway, prompt string, opts llm.GenerateOptions) (string, error) {
	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		res, err := gw.Generate(ctx, prompt, opts)
		if err == nil {
			return res.Content, nil
		}
		if !errors.Is(err, llm.ErrLLMUnavailable) {
			return "", err
		}
		lastErr = err
		if attempt < defaultRetryAttempts-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * defaultRetryBaseDelay
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", lastErr
}
