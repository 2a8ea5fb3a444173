// Package reasoning implements the two model-driven control loops an agent
// runs over its tools and memory: a bounded ReAct loop and a four-phase
// Plan-and-Solve pipeline. Both share the same (user_input, context) ->
// final_answer contract and write one reasoning-kind entry to memory on
// exit.
package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// Error kinds returned by the reasoning strategies.
var (
	// ErrUnparsable marks model output that could not be decoded as the
	// expected JSON schema, even after the lenient fallback chain.
	ErrUnparsable = fmt.Errorf("reasoning: unparsable model output")
	// ErrCancelled marks a cooperative abort at a suspension point.
	ErrCancelled = fmt.Errorf("reasoning: cancelled")
	// ErrUnmetDependency marks a plan step whose dependency has no result.
	ErrUnmetDependency = fmt.Errorf("reasoning: unmet step dependency")
	// ErrUnparsablePlan marks a plan response that could not be decoded.
	ErrUnparsablePlan = fmt.Errorf("reasoning: unparsable plan")
	// ErrInvalidPlan marks a structurally invalid plan, such as one
	// containing a forward dependency reference.
	ErrInvalidPlan = fmt.Errorf("reasoning: invalid plan")
)

const defaultMaxIterations = 10

// relevantMemoryCount is how many memory entries are projected into the
// prompt context on every iteration.
const relevantMemoryCount = 3

// Step is one thought/action/observation (ReAct) or phase record
// (Plan-and-Solve) kept in the trace persisted to memory.
type Step struct {
	Kind        string // "thought", "action", "observation", "analysis", "plan", "execute", "evaluate"
	Content     string
	ToolName    string
	Args        map[string]any
	Err         string
	At          time.Time
}

// Trace is the full record of one reasoning call, persisted verbatim to
// memory as a single KindReasoning entry.
type Trace struct {
	Mode        string
	UserInput   string
	Steps       []Step
	FinalAnswer string
	Iterations  int
}

// Request bundles everything a reasoning strategy needs to answer one
// input: the shared stores it reads and writes, and the input itself.
type Request struct {
	UserInput     string
	Context       map[string]any
	Tools         *tool.Registry
	Memory        *memory.Store
	LLM           *llm.Gateway
	MaxIterations int // ReAct only; 0 means defaultMaxIterations
}

// Result is what a strategy returns to the agent driving it.
type Result struct {
	FinalAnswer string
	Trace       Trace
}

// Strategy is the shared interface of the two reasoning modes.
type Strategy interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// persistTrace writes the full trace as a single memory entry, as both
// modes are required to do on exit.
func persistTrace(mem *memory.Store, trace Trace) {
	if mem == nil {
		return
	}
	if _, err := mem.Add(memory.KindReasoning, trace); err != nil {
		// KindReasoning is always a valid kind; this cannot fail in
		// practice, but the caller should not be blocked on a memory
		// bookkeeping error either way.
		_ = err
	}
}

// apology is the fixed fallback final answer used whenever a mode exhausts
// its options without producing a model-authored answer.
const apology = "I'm sorry, I wasn't able to find an answer to that."
