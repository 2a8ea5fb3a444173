// Package agent implements one conversational agent: the owner of a
// memory store, a tool registry, an LLM gateway, an optional MCP server
// pool handle, and a reasoning strategy. ProcessInput is the single entry
// point a caller (or the agent manager) uses to drive it.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/reasoning"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// Status is the agent's availability, consulted by the manager when
// assigning collaborative subtasks.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// MessageKind enumerates the inter-agent message kinds dispatched by
// OnMessage.
type MessageKind string

const (
	MessageTaskRequest  MessageKind = "task_request"
	MessageTaskResponse MessageKind = "task_response"
	MessageInfo         MessageKind = "info"
)

// Message is one inter-agent communication, as recorded on both endpoints'
// comm-history by the manager's message bus.
type Message struct {
	From    string
	To      string
	Content string
	Kind    MessageKind
	At      time.Time
}

// CollaborationHandle is the narrow capability an agent needs from its
// manager to participate in collaboration: send a direct message or
// broadcast one. Keeping this as an interface (rather than an *manager.Manager
// pointer) avoids a cyclic import between the agent and manager packages;
// the agent holds only its own id and this handle, not a reference back
// into the manager's tables.
type CollaborationHandle interface {
	SendMessage(ctx context.Context, from, to, content string, kind MessageKind) error
	Broadcast(ctx context.Context, from, content string, kind MessageKind) error
}

// Config configures a new Agent.
type Config struct {
	Name  string
	Role  string
	Mode  reasoning.Strategy
	Tools *tool.Registry

	Memory *memory.Store
	LLM    *llm.Gateway
	Pool   *mcp.Pool

	MaxIterations int
}

// Agent owns one memory store, tool registry, LLM gateway, and reasoning
// strategy, plus the bookkeeping needed to take part in collaboration.
type Agent struct {
	id   string
	name string
	role string

	mode          reasoning.Strategy
	tools         *tool.Registry
	mem           *memory.Store
	llmGateway    *llm.Gateway
	pool          *mcp.Pool
	maxIterations int

	mu          sync.Mutex
	status      Status
	currentTask *string
	history     []llm.Message

	collab CollaborationHandle
}

// New creates an Agent. The caller owns the lifetime of Memory/Tools/LLM;
// Agent does not close them.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Mode == nil {
		return nil, fmt.Errorf("agent: reasoning mode is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}

	return &Agent{
		id:            cfg.Name,
		name:          cfg.Name,
		role:          cfg.Role,
		mode:          cfg.Mode,
		tools:         cfg.Tools,
		mem:           cfg.Memory,
		llmGateway:    cfg.LLM,
		pool:          cfg.Pool,
		maxIterations: cfg.MaxIterations,
		status:        StatusIdle,
	}, nil
}

// ID is the agent's identifier, used by the manager's indices.
func (a *Agent) ID() string { return a.id }

// Name is the agent's display name.
func (a *Agent) Name() string { return a.name }

// Role is the agent's declared role, used by collaborative decomposition.
func (a *Agent) Role() string { return a.role }

// Status reports whether the agent is free to accept a new task.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// TryMarkBusy atomically transitions the agent from idle to busy and
// reports whether the transition happened, so a caller assigning work
// across several agents (the manager's round-robin dispatch) can claim an
// agent without a separate read-then-set race against another concurrent
// assignment or against ProcessInput's own status transition.
func (a *Agent) TryMarkBusy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusIdle {
		return false
	}
	a.status = StatusBusy
	return true
}

// History returns a copy of the conversation history accumulated so far.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// ProcessInput runs the five-step pipeline: record the user turn, mark the
// agent busy on this task, refresh MCP tools, dispatch to the configured
// reasoning strategy, then record the assistant turn and go idle again.
func (a *Agent) ProcessInput(ctx context.Context, userInput string, taskContext map[string]any) (string, error) {
	a.mu.Lock()
	a.history = append(a.history, llm.Message{Role: "user", Content: userInput})
	task := userInput
	a.currentTask = &task
	a.status = StatusBusy
	a.mu.Unlock()

	if a.mem != nil {
		if _, err := a.mem.Add(memory.KindConversation, map[string]any{"role": "user", "content": userInput}); err != nil {
			return "", err
		}
	}

	a.refreshMCPTools(ctx)

	result, err := a.mode.Run(ctx, reasoning.Request{
		UserInput:     userInput,
		Context:       taskContext,
		Tools:         a.tools,
		Memory:        a.mem,
		LLM:           a.llmGateway,
		MaxIterations: a.maxIterations,
	})

	a.mu.Lock()
	a.currentTask = nil
	a.status = StatusIdle
	a.mu.Unlock()

	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.history = append(a.history, llm.Message{Role: "assistant", Content: result.FinalAnswer})
	a.mu.Unlock()

	if a.mem != nil {
		if _, err := a.mem.Add(memory.KindConversation, map[string]any{"role": "assistant", "content": result.FinalAnswer}); err != nil {
			return "", err
		}
	}

	return result.FinalAnswer, nil
}

// refreshMCPTools fetches the pool's latest mirrored tools, registers any
// new ones, and unregisters previously-mirrored ids that are no longer
// present — removing stale wrappers left behind when a server's tool set
// shrinks across a reconnect, not just when a server is removed outright.
func (a *Agent) refreshMCPTools(ctx context.Context) {
	if a.pool == nil {
		return
	}

	current := a.pool.AllTools()
	live := make(map[string]bool, len(current))
	for _, d := range current {
		live[d.ID] = true
		if err := a.tools.Register(d); err != nil {
			continue
		}
	}

	for _, d := range a.tools.List() {
		if d.MCPMetadata != nil && !live[d.ID] {
			a.tools.Unregister(d.ID)
		}
	}
}

// EnableCollaboration opts this agent into a manager's message bus.
func (a *Agent) EnableCollaboration(handle CollaborationHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collab = handle
}

// SendMessage sends a direct message to another agent via the manager.
func (a *Agent) SendMessage(ctx context.Context, to, content string, kind MessageKind) error {
	a.mu.Lock()
	collab := a.collab
	a.mu.Unlock()
	if collab == nil {
		return fmt.Errorf("agent: collaboration not enabled for %s", a.id)
	}
	return collab.SendMessage(ctx, a.id, to, content, kind)
}

// Broadcast sends content to every other agent via the manager.
func (a *Agent) Broadcast(ctx context.Context, content string, kind MessageKind) error {
	a.mu.Lock()
	collab := a.collab
	a.mu.Unlock()
	if collab == nil {
		return fmt.Errorf("agent: collaboration not enabled for %s", a.id)
	}
	return collab.Broadcast(ctx, a.id, content, kind)
}

// OnMessage dispatches an incoming message. A task_request is accepted iff
// the agent is currently idle, in which case it is turned into a
// ProcessInput call and the result sent back as a task_response. Every
// other kind is simply appended to collaboration memory.
func (a *Agent) OnMessage(ctx context.Context, msg Message) error {
	if msg.Kind == MessageTaskRequest {
		if a.Status() != StatusIdle {
			return a.recordCollaboration(msg)
		}

		answer, err := a.ProcessInput(ctx, msg.Content, nil)
		if err != nil {
			return err
		}
		return a.SendMessage(ctx, msg.From, answer, MessageTaskResponse)
	}

	return a.recordCollaboration(msg)
}

func (a *Agent) recordCollaboration(msg Message) error {
	if a.mem == nil {
		return nil
	}
	_, err := a.mem.Add(memory.KindCollaboration, msg)
	return err
}
