package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/reasoning"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// stubStrategy is a reasoning.Strategy test double that returns a canned
// answer and records the request it was given.
type stubStrategy struct {
	answer   string
	err      error
	lastReq  reasoning.Request
	callSeen bool
}

func (s *stubStrategy) Run(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
	s.callSeen = true
	s.lastReq = req
	if s.err != nil {
		return reasoning.Result{}, s.err
	}
	return reasoning.Result{FinalAnswer: s.answer}, nil
}

func newTestAgent(t *testing.T, strategy reasoning.Strategy) (*Agent, *memory.Store) {
	t.Helper()
	mem := memory.New(0, 0)
	t.Cleanup(mem.Close)

	a, err := New(Config{
		Name:   "worker-1",
		Role:   "general",
		Mode:   strategy,
		Tools:  tool.NewRegistry(),
		Memory: mem,
	})
	require.NoError(t, err)
	return a, mem
}

func TestNew_RequiresNameAndMode(t *testing.T) {
	_, err := New(Config{Mode: &stubStrategy{}})
	assert.Error(t, err)

	_, err = New(Config{Name: "a"})
	assert.Error(t, err)
}

func TestProcessInput_RecordsHistoryAndMemory(t *testing.T) {
	strategy := &stubStrategy{answer: "hello back"}
	a, mem := newTestAgent(t, strategy)

	answer, err := a.ProcessInput(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello back", answer)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)

	assert.Len(t, mem.GetByKind(memory.KindConversation), 2)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestProcessInput_GoesIdleEvenOnStrategyError(t *testing.T) {
	strategy := &stubStrategy{err: assertErr{}}
	a, _ := newTestAgent(t, strategy)

	_, err := a.ProcessInput(context.Background(), "hello", nil)
	assert.Error(t, err)
	assert.Equal(t, StatusIdle, a.Status())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

// fakeCollabHandle records SendMessage/Broadcast calls for assertions.
type fakeCollabHandle struct {
	sent       []Message
	broadcasts []Message
}

func (f *fakeCollabHandle) SendMessage(ctx context.Context, from, to, content string, kind MessageKind) error {
	f.sent = append(f.sent, Message{From: from, To: to, Content: content, Kind: kind})
	return nil
}

func (f *fakeCollabHandle) Broadcast(ctx context.Context, from, content string, kind MessageKind) error {
	f.broadcasts = append(f.broadcasts, Message{From: from, Content: content, Kind: kind})
	return nil
}

func TestOnMessage_TaskRequestAcceptedWhenIdle(t *testing.T) {
	strategy := &stubStrategy{answer: "done"}
	a, _ := newTestAgent(t, strategy)

	handle := &fakeCollabHandle{}
	a.EnableCollaboration(handle)

	err := a.OnMessage(context.Background(), Message{From: "coordinator", To: "worker-1", Content: "summarize X", Kind: MessageTaskRequest})
	require.NoError(t, err)

	require.Len(t, handle.sent, 1)
	assert.Equal(t, "done", handle.sent[0].Content)
	assert.Equal(t, MessageTaskResponse, handle.sent[0].Kind)
}

func TestOnMessage_NonTaskKindOnlyRecordsToMemory(t *testing.T) {
	strategy := &stubStrategy{answer: "unused"}
	a, mem := newTestAgent(t, strategy)

	err := a.OnMessage(context.Background(), Message{From: "peer", Content: "fyi", Kind: MessageInfo})
	require.NoError(t, err)

	assert.False(t, strategy.callSeen)
	assert.Len(t, mem.GetByKind(memory.KindCollaboration), 1)
}

func TestSendMessage_FailsWithoutCollaborationEnabled(t *testing.T) {
	a, _ := newTestAgent(t, &stubStrategy{answer: "x"})
	err := a.SendMessage(context.Background(), "peer", "hi", MessageInfo)
	assert.Error(t, err)
}
