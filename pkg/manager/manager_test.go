package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/reasoning"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// scriptedStrategy is a reasoning.Strategy test double whose answer can be
// fixed to succeed or fail, for driving the manager's parallel dispatch.
type scriptedStrategy struct {
	answer string
	err    error
}

func (s *scriptedStrategy) Run(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
	if s.err != nil {
		return reasoning.Result{}, s.err
	}
	return reasoning.Result{FinalAnswer: s.answer}, nil
}

func newManagerAgent(t *testing.T, name string, strategy reasoning.Strategy) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:  name,
		Role:  "worker",
		Mode:  strategy,
		Tools: tool.NewRegistry(),
	})
	require.NoError(t, err)
	return a
}

func TestRegister_RejectsDuplicateAndRespectsLimit(t *testing.T) {
	m := New(Config{MaxAgents: 1})
	a1 := newManagerAgent(t, "a1", &scriptedStrategy{answer: "ok"})
	a2 := newManagerAgent(t, "a2", &scriptedStrategy{answer: "ok"})

	_, err := m.Register(a1, "worker")
	require.NoError(t, err)

	_, err = m.Register(a1, "worker")
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	_, err = m.Register(a2, "worker")
	assert.ErrorIs(t, err, ErrAgentLimit)
}

func TestUnregister_RemovesKnownAgentAndIgnoresUnknown(t *testing.T) {
	m := New(Config{})
	a1 := newManagerAgent(t, "a1", &scriptedStrategy{answer: "ok"})
	_, err := m.Register(a1, "worker")
	require.NoError(t, err)

	m.Unregister("a1")
	assert.Equal(t, 0, m.Stats().AgentCount)

	m.Unregister("does-not-exist")
}

func TestCreateTask_DefaultsSubtasksWhenNoneGiven(t *testing.T) {
	m := New(Config{})
	id := m.CreateTask("summarize the report", TaskOptions{})
	assert.Equal(t, "task-1", id)

	m.mu.Lock()
	task := m.tasks[id]
	m.mu.Unlock()

	require.Len(t, task.Subtasks, 3)
	assert.Equal(t, TaskPending, task.Status)
}

func TestExecuteTask_PartialFailureStillCompletesWithSummary(t *testing.T) {
	m := New(Config{})

	ok1 := newManagerAgent(t, "ok-1", &scriptedStrategy{answer: "done-1"})
	ok2 := newManagerAgent(t, "ok-2", &scriptedStrategy{answer: "done-2"})
	bad := newManagerAgent(t, "bad-1", &scriptedStrategy{err: assertErr{}})

	for _, a := range []*agent.Agent{ok1, ok2, bad} {
		_, err := m.Register(a, "worker")
		require.NoError(t, err)
	}

	id := m.CreateTask("produce the quarterly digest", TaskOptions{
		Subtasks: []string{"sub-a", "sub-b", "sub-c"},
	})

	task, err := m.ExecuteTask(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, task.Status)
	assert.Len(t, task.Assignments, 3)

	succeeded, failed := 0, 0
	for _, a := range task.Assignments {
		if a.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
	assert.Contains(t, task.Summary, "3 subtasks")
	assert.Contains(t, task.Summary, "2 succeeded")
	assert.Contains(t, task.Summary, "1 failed")
}

func TestExecuteTask_AllFailuresMarkTaskFailed(t *testing.T) {
	m := New(Config{})
	bad := newManagerAgent(t, "bad-1", &scriptedStrategy{err: assertErr{}})
	_, err := m.Register(bad, "worker")
	require.NoError(t, err)

	id := m.CreateTask("one impossible subtask", TaskOptions{Subtasks: []string{"sub-a"}})
	task, err := m.ExecuteTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
}

func TestExecuteTask_UnknownTaskReturnsErrTaskNotFound(t *testing.T) {
	m := New(Config{})
	_, err := m.ExecuteTask(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestExecuteTask_NoIdleAgentsFailsTask(t *testing.T) {
	m := New(Config{})
	id := m.CreateTask("orphan task", TaskOptions{Subtasks: []string{"sub-a"}})

	task, err := m.ExecuteTask(context.Background(), id)
	assert.Error(t, err)
	assert.Equal(t, TaskFailed, task.Status)
}

func TestSendMessage_DeliversAndRecordsBothInboxes(t *testing.T) {
	m := New(Config{})
	from := newManagerAgent(t, "from-1", &scriptedStrategy{answer: "ignored"})
	to := newManagerAgent(t, "to-1", &scriptedStrategy{answer: "ignored"})
	_, err := m.Register(from, "worker")
	require.NoError(t, err)
	_, err = m.Register(to, "worker")
	require.NoError(t, err)

	err = m.SendMessage(context.Background(), "from-1", "to-1", "hi there", agent.MessageInfo)
	require.NoError(t, err)

	require.Len(t, m.Inbox("from-1"), 1)
	require.Len(t, m.Inbox("to-1"), 1)
	assert.Equal(t, "hi there", m.Inbox("to-1")[0].Content)
}

func TestSendMessage_UnknownRecipientErrors(t *testing.T) {
	m := New(Config{})
	from := newManagerAgent(t, "from-1", &scriptedStrategy{answer: "ignored"})
	_, err := m.Register(from, "worker")
	require.NoError(t, err)

	err = m.SendMessage(context.Background(), "from-1", "ghost", "hi", agent.MessageInfo)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestBroadcast_ReachesEveryoneExceptSender(t *testing.T) {
	m := New(Config{})
	sender := newManagerAgent(t, "sender", &scriptedStrategy{answer: "ignored"})
	r1 := newManagerAgent(t, "r1", &scriptedStrategy{answer: "ignored"})
	r2 := newManagerAgent(t, "r2", &scriptedStrategy{answer: "ignored"})
	for _, a := range []*agent.Agent{sender, r1, r2} {
		_, err := m.Register(a, "worker")
		require.NoError(t, err)
	}

	err := m.Broadcast(context.Background(), "sender", "announcement", agent.MessageInfo)
	require.NoError(t, err)

	// The sender's comm-history holds its two outgoing copies; none is
	// addressed to the sender itself.
	require.Len(t, m.Inbox("sender"), 2)
	for _, msg := range m.Inbox("sender") {
		assert.Equal(t, "sender", msg.From)
		assert.NotEqual(t, "sender", msg.To)
	}
	require.Len(t, m.Inbox("r1"), 1)
	require.Len(t, m.Inbox("r2"), 1)
}

func TestCleanupCompleted_DropsTerminalTasksOnly(t *testing.T) {
	m := New(Config{})
	pendingID := m.CreateTask("still pending", TaskOptions{})
	doneID := m.CreateTask("finished", TaskOptions{})

	m.mu.Lock()
	m.tasks[doneID].Status = TaskCompleted
	m.mu.Unlock()

	m.CleanupCompleted()

	m.mu.Lock()
	_, pendingStillThere := m.tasks[pendingID]
	_, doneStillThere := m.tasks[doneID]
	m.mu.Unlock()

	assert.True(t, pendingStillThere)
	assert.False(t, doneStillThere)
}

func TestStats_CountsAgentsAndTasksByStatus(t *testing.T) {
	m := New(Config{})
	a1 := newManagerAgent(t, "a1", &scriptedStrategy{answer: "ok"})
	_, err := m.Register(a1, "worker")
	require.NoError(t, err)

	m.CreateTask("task one", TaskOptions{})
	m.CreateTask("task two", TaskOptions{})

	stats := m.Stats()
	assert.Equal(t, 1, stats.AgentCount)
	assert.Equal(t, 2, stats.TaskCounts[TaskPending])
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
