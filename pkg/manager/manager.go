// Package manager implements the agent manager: the registry of
// collaborating agents, their roles, and the collaborative tasks it
// decomposes and dispatches across them.
package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/registry"
)

// Error kinds returned by Manager operations.
var (
	ErrAgentLimit     = fmt.Errorf("manager: agent limit reached")
	ErrDuplicateAgent = fmt.Errorf("manager: agent already registered")
	ErrUnknownAgent   = fmt.Errorf("manager: unknown agent")
	ErrTaskNotFound   = fmt.Errorf("manager: task not found")
)

// TaskStatus is the lifecycle state of a collaborative task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SubtaskAssignment records one subtask's dispatch to one agent and its
// settled outcome.
type SubtaskAssignment struct {
	Subtask string
	AgentID string
	Result  string
	Err     error
}

// Task is one collaborative unit of work tracked by the manager.
type Task struct {
	ID          string
	Description string
	Status      TaskStatus
	Subtasks    []string
	Assignments []SubtaskAssignment
	Summary     string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// TaskOptions configures CreateTask. Subtasks overrides the default
// three-way analysis/execution/integration decomposition.
type TaskOptions struct {
	Subtasks []string
}

type agentEntry struct {
	agent *agent.Agent
	role  string
}

// Config configures a Manager.
type Config struct {
	MaxAgents int
}

const defaultMaxAgents = 50

// Manager owns the agent, role, and task indices for one collaboration
// group, plus the FIFO-per-sender message bus agents communicate through.
// The agent table is a registry.BaseRegistry: Manager doesn't need the
// insertion-order guarantees tool.Registry does, so the generic table's
// plain map-backed semantics (register/get/list/remove/count) are a
// direct fit.
type Manager struct {
	agents    *registry.BaseRegistry[*agentEntry]
	maxAgents int

	mu       sync.Mutex
	tasks    map[string]*Task
	nextTask int64

	inboxMu sync.Mutex
	inboxes map[string][]agent.Message
}

// New creates an empty Manager.
func New(cfg Config) *Manager {
	maxAgents := cfg.MaxAgents
	if maxAgents <= 0 {
		maxAgents = defaultMaxAgents
	}
	return &Manager{
		agents:    registry.NewBaseRegistry[*agentEntry](),
		tasks:     make(map[string]*Task),
		maxAgents: maxAgents,
		inboxes:   make(map[string][]agent.Message),
	}
}

// Register adds ag to the manager under role, opting it into the
// collaboration message bus. It fails with ErrAgentLimit at capacity and
// ErrDuplicateAgent if the agent's id is already registered.
func (m *Manager) Register(ag *agent.Agent, role string) (string, error) {
	if _, exists := m.agents.Get(ag.ID()); exists {
		return "", ErrDuplicateAgent
	}
	if m.agents.Count() >= m.maxAgents {
		return "", ErrAgentLimit
	}

	if err := m.agents.Register(ag.ID(), &agentEntry{agent: ag, role: role}); err != nil {
		return "", ErrDuplicateAgent
	}
	ag.EnableCollaboration(m)
	return ag.ID(), nil
}

// Unregister removes an agent from the manager. Removing an unknown id is
// a no-op.
func (m *Manager) Unregister(id string) {
	_ = m.agents.Remove(id)
}

// CreateTask records a new pending collaborative task and returns its id.
func (m *Manager) CreateTask(description string, opts TaskOptions) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subtasks := opts.Subtasks
	if len(subtasks) == 0 {
		subtasks = defaultSubtasks(description)
	}

	m.nextTask++
	id := fmt.Sprintf("task-%d", m.nextTask)
	m.tasks[id] = &Task{
		ID:          id,
		Description: description,
		Status:      TaskPending,
		Subtasks:    subtasks,
		CreatedAt:   time.Now(),
	}
	return id
}

// Stats summarizes the manager's current occupancy.
type Stats struct {
	AgentCount int
	TaskCounts map[TaskStatus]int
}

// Stats reports the current agent count and task counts by status.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{AgentCount: m.agents.Count(), TaskCounts: make(map[TaskStatus]int)}
	for _, t := range m.tasks {
		st.TaskCounts[t.Status]++
	}
	return st
}

// CleanupCompleted drops every task in a terminal state from the index.
func (m *Manager) CleanupCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Status == TaskCompleted || t.Status == TaskFailed {
			delete(m.tasks, id)
		}
	}
}

func defaultSubtasks(description string) []string {
	return []string{
		"analysis: " + description,
		"execution: " + description,
		"integration: " + description,
	}
}
