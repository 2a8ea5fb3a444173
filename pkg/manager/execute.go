package manager

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentcore/pkg/agent"
)

// ExecuteTask runs the decompose -> assign -> run-in-parallel -> integrate
// pipeline for a previously created task. Individual subtask failures are
// recorded on their assignment without aborting the others: the whole
// group is always awaited to completion (there is no errgroup.WithContext
// cancellation here) so a failing subtask never starves a slower
// successful one of wall-clock time.
func (m *Manager) ExecuteTask(ctx context.Context, taskID string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	task.Status = TaskRunning
	subtasks := task.Subtasks
	m.mu.Unlock()

	assignments, err := m.assign(subtasks)
	if err != nil {
		m.mu.Lock()
		task.Status = TaskFailed
		task.Summary = err.Error()
		m.mu.Unlock()
		return task, err
	}

	var group errgroup.Group
	for i := range assignments {
		i := i
		group.Go(func() error {
			entry := m.lookupAgent(assignments[i].AgentID)
			if entry == nil {
				assignments[i].Err = fmt.Errorf("%w: %s", ErrUnknownAgent, assignments[i].AgentID)
				return nil
			}
			result, err := entry.agent.ProcessInput(ctx, assignments[i].Subtask, nil)
			assignments[i].Result = result
			assignments[i].Err = err
			return nil
		})
	}
	_ = group.Wait()

	m.releaseAgents(assignments)

	succeeded, failed := 0, 0
	for _, a := range assignments {
		if a.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	m.mu.Lock()
	task.Assignments = assignments
	task.Summary = fmt.Sprintf("executed %d subtasks, %d succeeded, %d failed", len(assignments), succeeded, failed)
	if succeeded > 0 {
		task.Status = TaskCompleted
	} else {
		task.Status = TaskFailed
	}
	m.mu.Unlock()

	return task, nil
}

// assign round-robins subtasks across currently idle agents, claiming each
// one via TryMarkBusy as it's selected so a concurrent ExecuteTask cannot
// observe the same idle agent and double-book it: the check and the status
// transition happen together, not as a read followed by a later set.
// Claiming stops once there are enough agents to cover every subtask, so no
// claimed-but-unused agent is left marked busy with nothing to release it.
func (m *Manager) assign(subtasks []string) ([]SubtaskAssignment, error) {
	var claimed []*agent.Agent
	for _, e := range m.agents.List() {
		if len(claimed) >= len(subtasks) {
			break
		}
		if e.agent.TryMarkBusy() {
			claimed = append(claimed, e.agent)
		}
	}
	if len(claimed) == 0 {
		return nil, newComponentError("assign", "no idle agents available", nil)
	}

	assignments := make([]SubtaskAssignment, len(subtasks))
	for i, st := range subtasks {
		ag := claimed[i%len(claimed)]
		assignments[i] = SubtaskAssignment{Subtask: st, AgentID: ag.ID()}
	}
	return assignments, nil
}

// releaseAgents is a placeholder for symmetry with assign: Agent already
// returns itself to idle inside ProcessInput, so there is nothing further
// to release here.
func (m *Manager) releaseAgents(assignments []SubtaskAssignment) {}

func (m *Manager) lookupAgent(id string) *agentEntry {
	e, _ := m.agents.Get(id)
	return e
}

// SendMessage delivers a direct message from one agent to another,
// recording it on both endpoints' comm-history before invoking the
// receiver's OnMessage. It implements agent.CollaborationHandle.
func (m *Manager) SendMessage(ctx context.Context, from, to, content string, kind agent.MessageKind) error {
	msg := agent.Message{From: from, To: to, Content: content, Kind: kind}

	m.appendInbox(from, msg)
	m.appendInbox(to, msg)

	target := m.lookupAgent(to)
	if target == nil {
		return newComponentError("send_message", "recipient not registered", fmt.Errorf("%w: %s", ErrUnknownAgent, to))
	}
	return target.agent.OnMessage(ctx, msg)
}

// Broadcast sends content to every agent except the sender. Individual
// receiver errors are swallowed (logged by the caller if desired) so one
// failing receiver does not fail the whole broadcast.
func (m *Manager) Broadcast(ctx context.Context, from, content string, kind agent.MessageKind) error {
	var receivers []*agentEntry
	for _, e := range m.agents.List() {
		if e.agent.ID() != from {
			receivers = append(receivers, e)
		}
	}

	for _, e := range receivers {
		msg := agent.Message{From: from, To: e.agent.ID(), Content: content, Kind: kind}
		m.appendInbox(from, msg)
		m.appendInbox(e.agent.ID(), msg)
		if err := e.agent.OnMessage(ctx, msg); err != nil {
			slog.Warn("manager: broadcast receiver failed", "receiver", e.agent.ID(), "error", err)
		}
	}
	return nil
}

// appendInbox records msg on id's comm-history, preserving FIFO order per
// sender for any later inspection (e.g. by tests or an operator view).
func (m *Manager) appendInbox(id string, msg agent.Message) {
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	m.inboxes[id] = append(m.inboxes[id], msg)
}

// Inbox returns a copy of the messages recorded against id, in the order
// they were observed.
func (m *Manager) Inbox(id string) []agent.Message {
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	out := make([]agent.Message, len(m.inboxes[id]))
	copy(out, m.inboxes[id])
	return out
}
