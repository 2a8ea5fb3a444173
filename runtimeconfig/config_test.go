package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ThinkingModeReAct, cfg.ThinkingMode)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 1*time.Hour, cfg.MemoryTTL)
	assert.Equal(t, 1000, cfg.MaxMemorySize)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("THINKING_MODE", "plan_solve")
	t.Setenv("MAX_ITERATIONS", "25")
	t.Setenv("MEMORY_TTL", "45m")
	t.Setenv("COLLABORATION_ENABLED", "true")
	t.Setenv("MCP_RETRY_DELAY", "5")
	t.Setenv("TRACING_SAMPLING_RATIO", "0.25")

	cfg := FromEnv()
	assert.Equal(t, ThinkingModePlanSolve, cfg.ThinkingMode)
	assert.Equal(t, 25, cfg.MaxIterations)
	assert.Equal(t, 45*time.Minute, cfg.MemoryTTL)
	assert.True(t, cfg.CollaborationEnabled)
	assert.Equal(t, 5*time.Second, cfg.MCPRetryDelay)
	assert.Equal(t, 0.25, cfg.TracingSamplingRatio)
}

func TestFromEnv_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, 10, cfg.MaxIterations)
}

func TestLoadMCPServerSeeds_ParsesServerList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-seeds.yaml")
	doc := `servers:
  - id: primary
    url: http://localhost:4000
    transport: streamable_http
  - id: secondary
    url: http://localhost:4001
    apiKey: secret
  - id: local-fs
    transport: stdio
    command: mcp-server-filesystem
    args: ["/tmp"]
    env:
      LOG_LEVEL: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	seeds, err := LoadMCPServerSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	assert.Equal(t, MCPServerSeed{ID: "primary", URL: "http://localhost:4000", Transport: "streamable_http"}, seeds[0])
	assert.Equal(t, MCPServerSeed{ID: "secondary", URL: "http://localhost:4001", APIKey: "secret"}, seeds[1])
	assert.Equal(t, MCPServerSeed{
		ID: "local-fs", Transport: "stdio", Command: "mcp-server-filesystem",
		Args: []string{"/tmp"}, Env: map[string]string{"LOG_LEVEL": "debug"},
	}, seeds[2])
}

func TestLoadMCPServerSeeds_MissingFileErrors(t *testing.T) {
	_, err := LoadMCPServerSeeds(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadMCPServerSeeds_InvalidYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: [this is not: valid"), 0o644))

	_, err := LoadMCPServerSeeds(path)
	assert.Error(t, err)
}
