package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// scriptedLLMServer serves one canned chat-completion response per call,
// in order, cycling to the last response once the script is exhausted.
func scriptedLLMServer(t *testing.T, responses []string) *llm.Gateway {
	t.Helper()
	var calls int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(atomic.AddInt64(&calls, 1)) - 1
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": responses[idx]}, "finish_reason": "stop"},
			},
			"model": "gpt-4o-mini",
		})
	}))
	t.Cleanup(server.Close)

	return llm.New(llm.Config{BaseURL: server.URL, Model: "gpt-4o-mini"})
}

func searchToolRegistry(t *testing.T, result any, err error) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Descriptor{
		ID:          "search",
		DisplayName: "search",
		Description: "search and analyze",
		ParameterSchema: tool.ParameterSchema{
			"query": {Type: "string", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	}))
	return reg
}

const planJSON = `{
  "taskObjective": "survey recent Go concurrency patterns",
  "searchKeywords": ["errgroup", "context cancellation"],
  "searchTopics": ["worker pools"],
  "analysisFocus": ["correctness", "performance"],
  "reportStructure": {"sections": ["Overview", "Findings"], "keyPoints": ["use errgroup for fan-out"]},
  "estimatedSteps": 4
}`

func TestRun_CompletesAllFourPhasesAndReachesCompleted(t *testing.T) {
	gw := scriptedLLMServer(t, []string{planJSON, "structured analysis text", "# Report\n\nFindings here."})
	reg := searchToolRegistry(t, "relevant snippet about errgroup", nil)

	ua, err := New(Config{Name: "researcher", LLM: gw, Tools: reg, SearchToolName: "search"})
	require.NoError(t, err)

	report, err := ua.Run(context.Background(), "research Go concurrency")
	require.NoError(t, err)
	assert.Contains(t, report, "Report")
	assert.Equal(t, PhaseCompleted, ua.Phase())
	assert.Len(t, ua.records, 3)
}

func TestRun_UnparsablePlanStopsAtErrorPhase(t *testing.T) {
	gw := scriptedLLMServer(t, []string{"not json at all, sorry"})
	reg := searchToolRegistry(t, "x", nil)

	ua, err := New(Config{Name: "researcher", LLM: gw, Tools: reg, SearchToolName: "search"})
	require.NoError(t, err)

	_, err = ua.Run(context.Background(), "research something")
	assert.ErrorIs(t, err, ErrUnparsablePlan)
	assert.Equal(t, PhaseError, ua.Phase())
}

func TestRun_IndividualSearchFailureIsRecordedNotPropagated(t *testing.T) {
	gw := scriptedLLMServer(t, []string{planJSON, "analysis despite failures", "# Report"})
	reg := searchToolRegistry(t, nil, assertErr{})

	ua, err := New(Config{Name: "researcher", LLM: gw, Tools: reg, SearchToolName: "search"})
	require.NoError(t, err)

	_, err = ua.Run(context.Background(), "research something")
	require.NoError(t, err)

	for _, rec := range ua.records {
		assert.NotEmpty(t, rec.Err)
	}
	assert.Equal(t, PhaseCompleted, ua.Phase())
}

func TestBoundedSummary_KeepsOnlyTopResultsAndSkipsFailures(t *testing.T) {
	records := []SearchRecord{
		{Query: "a", Result: "result-a"},
		{Query: "b", Err: "boom"},
		{Query: "c", Result: "result-c"},
		{Query: "d", Result: "result-d"},
		{Query: "e", Result: "result-e"},
	}
	summary := boundedSummary(records)
	assert.Contains(t, summary, "result-a")
	assert.Contains(t, summary, "result-c")
	assert.Contains(t, summary, "result-d")
	assert.NotContains(t, summary, "result-e")
	assert.NotContains(t, summary, "boom")
}

func TestClipSnippet_ClipsLongStringsOnly(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, clipSnippet(short, 280))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	clipped := clipSnippet(string(long), 280)
	assert.Len(t, clipped, 283)
}

func TestNew_RequiresNameLLMAndSearchTool(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Name: "a"})
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "search tool unavailable" }
