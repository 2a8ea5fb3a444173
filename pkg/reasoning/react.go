package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/agentcore/internal/jsonutil"
	"github.com/kadirpekel/agentcore/pkg/llm"
)

// ReAct interleaves model "thoughts" with tool "actions" and the resulting
// "observations", in a loop bounded by MaxIterations.
type ReAct struct{}

// NewReAct creates a ReAct strategy.
func NewReAct() *ReAct {
	return &ReAct{}
}

type reactResponse struct {
	Reasoning   string  `json:"reasoning"`
	Action      string  `json:"action"`
	Args        any     `json:"args"`
	FinalAnswer *string `json:"finalAnswer"`
	ShouldStop  bool    `json:"shouldStop"`
}

// Run executes the bounded ReAct loop.
func (s *ReAct) Run(ctx context.Context, req Request) (Result, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	trace := Trace{Mode: "react", UserInput: req.UserInput}

	for i := 1; i <= maxIter; i++ {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}

		prompt := s.buildPrompt(req, trace, i, maxIter)
		res, err := req.LLM.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 2048})
		if err != nil {
			// An unavailable backend is observed and the loop proceeds,
			// rather than aborting the whole call.
			trace.Steps = append(trace.Steps, Step{Kind: "observation", Content: "error: " + err.Error()})
			continue
		}

		var parsed reactResponse
		if perr := jsonutil.ExtractJSON(res.Content, &parsed); perr != nil {
			trace.Steps = append(trace.Steps, Step{Kind: "observation", Content: fmt.Sprintf("%s: %v", ErrUnparsable, perr)})
			continue
		}

		if parsed.Reasoning != "" {
			trace.Steps = append(trace.Steps, Step{Kind: "thought", Content: parsed.Reasoning})
		}

		if parsed.FinalAnswer != nil {
			trace.FinalAnswer = *parsed.FinalAnswer
			trace.Iterations = i
			persistTrace(req.Memory, trace)
			return Result{FinalAnswer: trace.FinalAnswer, Trace: trace}, nil
		}

		if parsed.ShouldStop {
			trace.FinalAnswer = s.summarize(trace)
			trace.Iterations = i
			persistTrace(req.Memory, trace)
			return Result{FinalAnswer: trace.FinalAnswer, Trace: trace}, nil
		}

		if parsed.Action == "" {
			continue
		}

		trace.Steps = append(trace.Steps, Step{Kind: "action", ToolName: parsed.Action})

		id, ok := req.Tools.Resolve(parsed.Action)
		if !ok {
			obs := fmt.Sprintf("error: no tool named %q is registered", parsed.Action)
			trace.Steps = append(trace.Steps, Step{Kind: "observation", Content: obs})
			continue
		}

		args := normalizeArgs(parsed.Args)
		out, err := req.Tools.Execute(ctx, id, args)
		if err != nil {
			trace.Steps = append(trace.Steps, Step{Kind: "observation", Content: "error: " + err.Error()})
			continue
		}

		obs, _ := json.Marshal(out)
		trace.Steps = append(trace.Steps, Step{Kind: "observation", Content: string(obs)})
	}

	trace.FinalAnswer = apology
	trace.Iterations = maxIter
	persistTrace(req.Memory, trace)
	return Result{FinalAnswer: trace.FinalAnswer, Trace: trace}, nil
}

// normalizeArgs converts the model's "args" field -- an object, a JSON
// string, or a bare string -- into the map execute expects.
func normalizeArgs(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
		return map[string]any{"query": v}
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"query": fmt.Sprintf("%v", v)}
	}
}

// buildPrompt assembles the system role, relevant-memory projection, tool
// catalog, context, user input, accumulated transcript, and iteration
// counter into the single prompt string sent to the model.
func (s *ReAct) buildPrompt(req Request, trace Trace, iteration, maxIterations int) string {
	var b strings.Builder
	b.WriteString("You are an AI agent reasoning step by step using available tools.\n")
	b.WriteString("Respond with a single JSON object: {\"reasoning\":string, \"action\":string|null, \"args\":object|null, \"finalAnswer\":string|null, \"shouldStop\":bool}.\n\n")

	if req.Memory != nil {
		relevant := req.Memory.Relevant(req.UserInput, relevantMemoryCount)
		if len(relevant) > 0 {
			b.WriteString("Relevant memory:\n")
			for _, e := range relevant {
				fmt.Fprintf(&b, "- [%s] %v\n", e.Kind, e.Payload)
			}
			b.WriteString("\n")
		}
	}

	if req.Tools != nil {
		tools := req.Tools.List()
		if len(tools) == 0 {
			b.WriteString("No tools are available.\n\n")
		} else {
			b.WriteString("Available tools:\n")
			for _, t := range tools {
				fmt.Fprintf(&b, "- %s: %s (parameters: %v)\n", t.DisplayName, t.Description, t.ParameterSchema)
			}
			b.WriteString("\n")
		}
	}

	if len(req.Context) > 0 {
		fmt.Fprintf(&b, "Context: %v\n\n", req.Context)
	}

	fmt.Fprintf(&b, "User input: %s\n\n", req.UserInput)

	if len(trace.Steps) > 0 {
		b.WriteString("Transcript so far:\n")
		for _, step := range trace.Steps {
			fmt.Fprintf(&b, "[%s] %s\n", step.Kind, step.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Iteration %d/%d.\n", iteration, maxIterations)
	return b.String()
}

// summarize produces a final answer from the accumulated transcript when
// the model signals shouldStop without supplying finalAnswer directly.
func (s *ReAct) summarize(trace Trace) string {
	for i := len(trace.Steps) - 1; i >= 0; i-- {
		if trace.Steps[i].Kind == "thought" {
			return trace.Steps[i].Content
		}
	}
	return apology
}
