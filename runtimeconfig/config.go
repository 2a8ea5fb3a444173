// Package runtimeconfig loads the environment variables that configure the
// agent runtime. It mirrors the teacher's env-loading idiom (.env file via
// godotenv, then os.Getenv with typed coercion) but without the config-file
// hot-reload machinery that backs the HTTP admin API — that surface is
// external to this core.
package runtimeconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ThinkingMode selects the reasoning strategy an agent runs.
type ThinkingMode string

const (
	ThinkingModeReAct     ThinkingMode = "react"
	ThinkingModePlanSolve ThinkingMode = "plan_solve"
	ThinkingModeDecision  ThinkingMode = "decision"
)

// Config holds every environment variable consumed by the core, as
// enumerated in the external interfaces section of the spec.
type Config struct {
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	AgentName    string
	ThinkingMode ThinkingMode
	MaxIterations int

	MemoryTTL     time.Duration
	MaxMemorySize int

	CollaborationEnabled bool
	AgentRole            string

	MaxMCPConnections    int
	MCPConnectionTimeout time.Duration
	MCPRetryAttempts     int
	MCPRetryDelay        time.Duration

	LogLevel string

	// TracingSamplingRatio is the fraction of traces pkg/tracing records,
	// in [0, 1]. Zero (the default) still builds a valid TracerProvider,
	// it just samples nothing.
	TracingSamplingRatio float64
}

// defaults mirror the component design defaults cited in spec.md §4.
func defaults() Config {
	return Config{
		OpenAIModel:          "gpt-4o-mini",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		AgentName:            "agent",
		ThinkingMode:         ThinkingModeReAct,
		MaxIterations:        10,
		MemoryTTL:            1 * time.Hour,
		MaxMemorySize:        1000,
		CollaborationEnabled: false,
		AgentRole:            "general",
		MaxMCPConnections:    10,
		MCPConnectionTimeout: 30 * time.Second,
		MCPRetryAttempts:     3,
		MCPRetryDelay:        2 * time.Second,
		LogLevel:             "info",
		TracingSamplingRatio: 0,
	}
}

// Load reads ".env.local" then ".env" (first one wins per key, matching the
// teacher's LoadEnvFiles order) and overlays the process environment on top
// of the component defaults.
func Load() (Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("runtimeconfig: load %s: %w", file, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config purely from the current process environment,
// without touching any .env file. Useful in tests.
func FromEnv() Config {
	cfg := defaults()

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("AGENT_NAME"); v != "" {
		cfg.AgentName = v
	}
	if v := os.Getenv("THINKING_MODE"); v != "" {
		cfg.ThinkingMode = ThinkingMode(strings.ToLower(v))
	}
	if v, ok := getInt("MAX_ITERATIONS"); ok {
		cfg.MaxIterations = v
	}
	if v, ok := getDuration("MEMORY_TTL"); ok {
		cfg.MemoryTTL = v
	}
	if v, ok := getInt("MAX_MEMORY_SIZE"); ok {
		cfg.MaxMemorySize = v
	}
	if v, ok := getBool("COLLABORATION_ENABLED"); ok {
		cfg.CollaborationEnabled = v
	}
	if v := os.Getenv("AGENT_ROLE"); v != "" {
		cfg.AgentRole = v
	}
	if v, ok := getInt("MAX_MCP_CONNECTIONS"); ok {
		cfg.MaxMCPConnections = v
	}
	if v, ok := getDuration("MCP_CONNECTION_TIMEOUT"); ok {
		cfg.MCPConnectionTimeout = v
	}
	if v, ok := getInt("MCP_RETRY_ATTEMPTS"); ok {
		cfg.MCPRetryAttempts = v
	}
	if v, ok := getDuration("MCP_RETRY_DELAY"); ok {
		cfg.MCPRetryDelay = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := getFloat("TRACING_SAMPLING_RATIO"); ok {
		cfg.TracingSamplingRatio = v
	}

	return cfg
}

// getInt reads an env var as a bare integer count via strconv.Atoi; an
// unset or non-integer value reports false, leaving the default in place.
func getInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// getDuration accepts either a Go duration string ("30s") or a bare integer,
// which is interpreted as seconds.
func getDuration(name string) (time.Duration, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// MCPServerSeed describes one server entry of an optional YAML seed file,
// an alternative to passing a single server via CLI flags when a
// deployment wants the pool pre-populated with more than one server.
type MCPServerSeed struct {
	ID        string            `yaml:"id"`
	URL       string            `yaml:"url"`
	APIKey    string            `yaml:"apiKey"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
}

// LoadMCPServerSeeds reads a YAML document of the form:
//
//	servers:
//	  - id: primary
//	    url: http://localhost:4000
//	    transport: streamable_http
//
// The JSON persistence document of the MCP server config (servers[],
// lastUpdated) remains the runtime's wire/persistence format; this YAML
// file is only a convenient way to author the initial server list.
func LoadMCPServerSeeds(path string) ([]MCPServerSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runtimeconfig: read mcp seed file: %w", err)
	}

	var doc struct {
		Servers []MCPServerSeed `yaml:"servers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("runtimeconfig: parse mcp seed file: %w", err)
	}
	return doc.Servers, nil
}

func getFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func getBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}
