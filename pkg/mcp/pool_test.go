package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/tool"
)

func fakeMCPServer(t *testing.T, toolName string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "initialize":
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}})
		case "tools/list":
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": 1,
				"result": map[string]any{
					"tools": []any{
						map[string]any{
							"name":        toolName,
							"description": "looks up the weather",
							"inputSchema": map[string]any{
								"properties": map[string]any{"city": map[string]any{"type": "string"}},
								"required":   []any{"city"},
							},
						},
					},
				},
			})
		case "resources/list", "prompts/list":
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "error": map[string]any{"code": -32601, "message": "not supported"}})
		case "tools/call":
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": 1,
				"result": map[string]any{"content": []any{map[string]any{"type": "text", "text": "sunny"}}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestPool_AddServerMirrorsTools(t *testing.T) {
	server := fakeMCPServer(t, "maps_weather")
	defer server.Close()

	pool := NewPool()
	registry := tool.NewRegistry()
	pool.Bind(registry)

	err := pool.AddServer(context.Background(), ServerConfig{ID: "amap", URL: server.URL})
	require.NoError(t, err)

	d, ok := registry.Get("amap:maps_weather")
	require.True(t, ok)
	assert.Equal(t, "maps_weather", d.MCPMetadata.OriginalName)
	assert.True(t, d.ParameterSchema["city"].Required)

	stats := pool.Stats()
	assert.Equal(t, StateConnected, stats["amap"].State)
}

func TestPool_ExecuteToolRoutesToCorrectServer(t *testing.T) {
	serverA := fakeMCPServer(t, "maps_weather")
	defer serverA.Close()

	pool := NewPool()
	registry := tool.NewRegistry()
	pool.Bind(registry)
	require.NoError(t, pool.AddServer(context.Background(), ServerConfig{ID: "amap", URL: serverA.URL}))

	result, err := registry.Execute(context.Background(), "maps_weather", map[string]any{"city": "Hangzhou"})
	require.NoError(t, err)
	content, ok := result.(map[string]any)["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	assert.Equal(t, "sunny", content[0].(map[string]any)["text"])
}

func TestPool_ExecuteTool_ServerNotConnected(t *testing.T) {
	pool := NewPool()
	_, err := pool.ExecuteTool(context.Background(), "ghost:tool", nil)
	assert.ErrorIs(t, err, ErrServerNotConnected)
}

func TestPool_RemoveServerUnregistersTools(t *testing.T) {
	server := fakeMCPServer(t, "maps_weather")
	defer server.Close()

	pool := NewPool()
	registry := tool.NewRegistry()
	pool.Bind(registry)
	require.NoError(t, pool.AddServer(context.Background(), ServerConfig{ID: "amap", URL: server.URL}))

	pool.RemoveServer("amap")
	_, ok := registry.Get("amap:maps_weather")
	assert.False(t, ok)
}

func TestPool_AddServerInitializeFailureMarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pool := NewPool()
	err := pool.AddServer(context.Background(), ServerConfig{ID: "broken", URL: server.URL})
	require.Error(t, err)

	stats := pool.Stats()
	assert.Equal(t, StateFailed, stats["broken"].State)
	assert.Equal(t, 1, stats["broken"].ErrorCount)
}
