package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// stdioClient wraps a subprocess MCP server reached over stdio, adapting
// mcp-go's typed client API to the same generic method/params/result shape
// the HTTP transport speaks, so Pool's mirroring and invocation code stays
// transport-agnostic.
type stdioClient struct {
	command string
	args    []string
	env     map[string]string

	mu      sync.Mutex
	started bool
	client  *client.Client
}

func newStdioClient(command string, args []string, env map[string]string) *stdioClient {
	return &stdioClient{command: command, args: args, env: env}
}

func (s *stdioClient) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	c, err := client.NewStdioMCPClient(s.command, s.convertEnv(), s.args...)
	if err != nil {
		return fmt.Errorf("mcp: creating stdio client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("mcp: starting stdio client: %w", err)
	}

	s.client = c
	s.started = true
	return nil
}

func (s *stdioClient) convertEnv() []string {
	out := make([]string, 0, len(s.env))
	for k, v := range s.env {
		out = append(out, k+"="+v)
	}
	return out
}

func (s *stdioClient) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	s.started = false
}

// call dispatches one of the three methods Pool issues (initialize,
// tools/list, tools/call) to their mcp-go typed equivalents, and renders the
// typed response back into the plain map[string]any shape the HTTP path
// produces by unmarshaling the JSON-RPC response body.
func (s *stdioClient) call(ctx context.Context, method string, params any) (any, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	switch method {
	case "initialize":
		return s.initialize(ctx)
	case "tools/list":
		return s.listTools(ctx)
	case "tools/call":
		return s.callTool(ctx, params)
	default:
		// resources/list, prompts/list and other best-effort capabilities are
		// not exposed by every subprocess server; report them as unsupported
		// rather than guessing at a typed equivalent.
		return nil, fmt.Errorf("mcp: stdio transport does not support method %q", method)
	}
}

func (s *stdioClient) initialize(ctx context.Context) (any, error) {
	req := mcp.InitializeRequest{}
	req.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "0.1.0"}
	req.Params.ProtocolVersion = ProtocolVersion

	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	if _, err := c.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("mcp: stdio initialize: %w", err)
	}
	return map[string]any{}, nil
}

func (s *stdioClient) listTools(ctx context.Context) (any, error) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: stdio tools/list: %w", err)
	}

	tools := make([]any, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": schemaToMap(t.InputSchema),
		})
	}
	return map[string]any{"tools": tools}, nil
}

func (s *stdioClient) callTool(ctx context.Context, params any) (any, error) {
	p, _ := params.(map[string]any)
	name, _ := p["name"].(string)
	args, _ := p["arguments"].(map[string]any)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp: stdio tools/call: %w", err)
	}

	content := make([]any, 0, len(resp.Content))
	for _, item := range resp.Content {
		if text, ok := item.(mcp.TextContent); ok {
			content = append(content, map[string]any{"type": "text", "text": text.Text})
		}
	}
	return map[string]any{"content": content, "isError": resp.IsError}, nil
}

// schemaToMap round-trips an mcp-go tool schema through JSON so it matches
// the plain map[string]any shape the HTTP transport's tools/list returns.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
