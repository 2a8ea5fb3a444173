// Command agentcore is the CLI entry point for the agent runtime.
//
// Usage:
//
//	agentcore chat
//	agentcore chat --mcp-url http://localhost:4000 --mcp-api-key secret
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/llm"
	"github.com/kadirpekel/agentcore/pkg/logger"
	"github.com/kadirpekel/agentcore/pkg/manager"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/reasoning"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/tracing"
	"github.com/kadirpekel/agentcore/runtimeconfig"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat ChatCmd `cmd:"" help:"Start an interactive chat session with one agent."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// ChatCmd runs a single agent over stdin/stdout, reading one line of user
// input per turn and printing the agent's final answer.
type ChatCmd struct {
	MCPURL      string `name:"mcp-url" help:"MCP server URL to connect to, if any."`
	MCPAPIKey   string `name:"mcp-api-key" help:"Bearer API key for the MCP server."`
	MCPSeedFile string `name:"mcp-seed-file" help:"YAML file listing multiple MCP servers to pre-populate the pool with."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := runtimeconfig.Load()
	if err != nil {
		return fmt.Errorf("agentcore: load config: %w", err)
	}

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, "simple")
	log := logger.GetLogger()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:   cfg.AgentName,
		SamplingRatio: cfg.TracingSamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("agentcore: init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	mem := memory.New(cfg.MemoryTTL, cfg.MaxMemorySize)
	defer mem.Close()

	tools := tool.NewRegistry()

	var pool *mcp.Pool
	if c.MCPURL != "" || c.MCPSeedFile != "" {
		pool = mcp.NewPool()
		pool.Bind(tools)

		if c.MCPURL != "" {
			if err := pool.AddServer(ctx, mcp.ServerConfig{
				ID:        "primary",
				URL:       c.MCPURL,
				APIKey:    c.MCPAPIKey,
				Transport: mcp.TransportStreamableHTTP,
				Timeout:   cfg.MCPConnectionTimeout,
			}); err != nil {
				log.Warn("mcp server connect failed", "url", c.MCPURL, "error", err)
			}
		}

		if c.MCPSeedFile != "" {
			seeds, err := runtimeconfig.LoadMCPServerSeeds(c.MCPSeedFile)
			if err != nil {
				return fmt.Errorf("agentcore: %w", err)
			}
			for _, seed := range seeds {
				transport := mcp.TransportStreamableHTTP
				if seed.Transport != "" {
					transport = mcp.TransportKind(seed.Transport)
				}
				if err := pool.AddServer(ctx, mcp.ServerConfig{
					ID:        seed.ID,
					URL:       seed.URL,
					APIKey:    seed.APIKey,
					Transport: transport,
					Timeout:   cfg.MCPConnectionTimeout,
					Command:   seed.Command,
					Args:      seed.Args,
					Env:       seed.Env,
				}); err != nil {
					log.Warn("mcp seed server connect failed", "id", seed.ID, "url", seed.URL, "error", err)
				}
			}
		}
	}

	gw := llm.New(llm.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
	})

	strategy, err := reasoning.NewStrategy(cfg.ThinkingMode)
	if err != nil {
		return fmt.Errorf("agentcore: %w", err)
	}

	ag, err := agent.New(agent.Config{
		Name:          cfg.AgentName,
		Role:          cfg.AgentRole,
		Mode:          strategy,
		Tools:         tools,
		Memory:        mem,
		LLM:           gw,
		Pool:          pool,
		MaxIterations: cfg.MaxIterations,
	})
	if err != nil {
		return fmt.Errorf("agentcore: create agent: %w", err)
	}

	if cfg.CollaborationEnabled {
		mgr := manager.New(manager.Config{})
		if _, err := mgr.Register(ag, cfg.AgentRole); err != nil {
			log.Warn("collaboration registration failed", "error", err)
		}
	}

	log.Info("agent ready", "name", cfg.AgentName, "mode", cfg.ThinkingMode)
	fmt.Printf("%s ready. Type a message and press enter (Ctrl+C to quit).\n", cfg.AgentName)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		answer, err := ag.ProcessInput(ctx, line, nil)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(answer)

		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("Agent runtime with MCP tool support."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli))
}
