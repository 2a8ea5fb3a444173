package toolselect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/tool"
)

func noopExecute(ctx context.Context, args map[string]any) (any, error) { return nil, nil }

func TestSelect_RanksByKeywordMatch(t *testing.T) {
	s := NewSelector()

	candidates := []tool.Descriptor{
		{ID: "calculator", DisplayName: "Calculator", Description: "Evaluates arithmetic expressions", Execute: noopExecute},
		{ID: "weather", DisplayName: "Weather Lookup", Description: "Gets the current weather for a city", Execute: noopExecute},
	}

	ranked := s.Select("what is the weather in paris", candidates)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "weather", ranked[0].Tool.ID)
}

func TestSelect_TruncatesToMaxResults(t *testing.T) {
	s := NewSelector(WithMaxResults(2))

	var candidates []tool.Descriptor
	for i := 0; i < 5; i++ {
		candidates = append(candidates, tool.Descriptor{
			ID: string(rune('a' + i)), DisplayName: "search tool", Description: "performs a search", Execute: noopExecute,
		})
	}

	ranked := s.Select("search for something", candidates)
	assert.Len(t, ranked, 2)
}

func TestSelect_DomainBonusDriving(t *testing.T) {
	s := NewSelector()
	candidates := []tool.Descriptor{
		{ID: "driving-eta", DisplayName: "Driving ETA", Description: "Estimates driving time", Execute: noopExecute},
		{ID: "unrelated", DisplayName: "Unrelated", Description: "Does something else", Execute: noopExecute},
	}

	ranked := s.Select("帮我看看驾车到公司要多久", candidates)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "driving-eta", ranked[0].Tool.ID)
}

func TestSelect_FailedServerPenalized(t *testing.T) {
	s := NewSelector(WithServerStatus(func(serverID string) bool {
		return serverID != "down-server"
	}))

	candidates := []tool.Descriptor{
		{
			ID: "down:search", DisplayName: "Search Tool", Description: "searches the web", Execute: noopExecute,
			MCPMetadata: &tool.MCPMetadata{ServerID: "down-server"},
		},
		{
			ID: "up:search", DisplayName: "Search Tool", Description: "searches the web", Execute: noopExecute,
			MCPMetadata: &tool.MCPMetadata{ServerID: "up-server"},
		},
	}

	ranked := s.Select("search the web", candidates)
	require.Len(t, ranked, 2)
	assert.Equal(t, "up:search", ranked[0].Tool.ID)
}

func TestRecordToolUsage_AffectsPriority(t *testing.T) {
	s := NewSelector()
	candidates := []tool.Descriptor{
		{ID: "reliable", DisplayName: "Reliable Tool", Description: "does work", Execute: noopExecute},
		{ID: "flaky", DisplayName: "Flaky Tool", Description: "does work", Execute: noopExecute},
	}

	s.RecordToolUsage("reliable", true, 10)
	s.RecordToolUsage("reliable", true, 10)
	s.RecordToolUsage("flaky", false, 10)
	s.RecordToolUsage("flaky", true, 10)

	ranked := s.Select("does work please", candidates)
	require.Len(t, ranked, 2)
	assert.Equal(t, "reliable", ranked[0].Tool.ID)
}

func TestCleanup_EvictsStaleUsage(t *testing.T) {
	s := NewSelector()
	s.RecordToolUsage("tool-a", true, 5)
	require.Contains(t, s.usage, "tool-a")

	s.usage["tool-a"].touchedAt = s.usage["tool-a"].touchedAt.Add(-25 * 60 * 60 * 1_000_000_000)
	s.Cleanup()

	assert.NotContains(t, s.usage, "tool-a")
}
