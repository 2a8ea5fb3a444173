package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/agentcore/pkg/tool"
)

// State is one point in a server's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// ErrServerNotConnected is returned by ExecuteTool when the target server
// is not currently in the connected state.
var ErrServerNotConnected = fmt.Errorf("mcp: server not connected")

// ServerConfig configures one server added to the pool. URL is required for
// the HTTP transports; Command (plus optional Args/Env) is required for
// TransportStdio, which launches a subprocess speaking MCP over its stdin
// and stdout instead of connecting to a URL.
type ServerConfig struct {
	ID        string
	URL       string
	APIKey    string
	Transport TransportKind
	Timeout   time.Duration

	Command string
	Args    []string
	Env     map[string]string
}

// ServerRecord is the externally observable state of one pooled server.
type ServerRecord struct {
	ID              string
	URL             string
	Transport       TransportKind
	State           State
	SessionID       string
	LastConnectedAt time.Time
	ErrorCount      int
	Config          ServerConfig
}

// EventType enumerates the pool's observable lifecycle events.
type EventType string

const (
	EventServerConnected EventType = "server_connected"
	EventServerError     EventType = "server_error"
	EventToolsChanged    EventType = "tools_changed"
)

// Event is one pool lifecycle notification.
type Event struct {
	Type     EventType
	ServerID string
	Err      error
	At       time.Time
}

type serverEntry struct {
	record    ServerRecord
	transport *Transport
	toolIDs   []string // ids this server contributed to bound registries
}

// Pool owns the connection lifecycle of many MCP servers and mirrors their
// tool capabilities into every tool.Registry bound to it via Bind. It is
// safe for concurrent use by multiple agents that share it.
type Pool struct {
	mu         sync.RWMutex
	servers    map[string]*serverEntry
	registries []*tool.Registry

	events chan Event

	connectedGauge *prometheus.GaugeVec
}

// NewPool creates an empty pool. Lifecycle events go to a channel buffered
// for 64 events; once it is full, further events are dropped with a warning
// instead of blocking. Callers uninterested in events may simply not call
// Events().
func NewPool() *Pool {
	return &Pool{
		servers: make(map[string]*serverEntry),
		events:  make(chan Event, 64),
		connectedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_mcp_server_state",
			Help: "1 if the MCP server with this id is connected, 0 otherwise.",
		}, []string{"server_id"}),
	}
}

// Collector exposes the pool's Prometheus gauge for registration.
func (p *Pool) Collector() prometheus.Collector {
	return p.connectedGauge
}

// Events returns the channel of lifecycle events. There is exactly one
// channel per pool; call this once and fan out to multiple observers
// yourself if needed.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Bind registers r to receive tool mirrors from every server in the pool,
// present and future. This is the Go realization of "set_server_manager":
// an agent opting its registry into the shared pool.
func (p *Pool) Bind(r *tool.Registry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registries = append(p.registries, r)
}

func (p *Pool) emit(ev Event) {
	ev.At = time.Now()
	select {
	case p.events <- ev:
	default:
		slog.Warn("mcp: event channel full, dropping event", "type", ev.Type, "server", ev.ServerID)
	}
}

// AddServer connects to a new server and mirrors its tools into every bound
// registry. The server transitions disconnected -> connecting -> connected
// (or failed on error).
func (p *Pool) AddServer(ctx context.Context, cfg ServerConfig) error {
	entry := &serverEntry{record: ServerRecord{
		ID:        cfg.ID,
		URL:       cfg.URL,
		Transport: cfg.Transport,
		State:     StateConnecting,
		Config:    cfg,
	}}

	p.mu.Lock()
	p.servers[cfg.ID] = entry
	p.mu.Unlock()

	transport := NewTransport(TransportConfig{
		ServerID:  cfg.ID,
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
		Timeout:   cfg.Timeout,
		Command:   cfg.Command,
		Args:      cfg.Args,
		Env:       cfg.Env,
	})

	if _, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      map[string]any{"name": "agentcore", "version": "0.1.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}, "prompts": map[string]any{}},
	}, nil); err != nil {
		p.markFailed(cfg.ID, err)
		return fmt.Errorf("mcp: initialize %s: %w", cfg.ID, err)
	}

	descriptors, err := p.mirrorCapabilities(ctx, cfg.ID, transport)
	if err != nil {
		p.markFailed(cfg.ID, err)
		return fmt.Errorf("mcp: mirror capabilities for %s: %w", cfg.ID, err)
	}

	p.mu.Lock()
	entry.transport = transport
	entry.record.State = StateConnected
	entry.record.SessionID = transport.SessionID()
	entry.record.LastConnectedAt = time.Now()
	registries := append([]*tool.Registry(nil), p.registries...)
	p.mu.Unlock()

	for _, r := range registries {
		for _, d := range descriptors {
			if err := r.Register(d); err != nil {
				slog.Warn("mcp: failed to register mirrored tool", "server", cfg.ID, "tool", d.ID, "error", err)
			}
		}
	}

	p.connectedGauge.WithLabelValues(cfg.ID).Set(1)
	p.emit(Event{Type: EventServerConnected, ServerID: cfg.ID})
	p.emit(Event{Type: EventToolsChanged, ServerID: cfg.ID})

	return nil
}

// mirrorCapabilities calls tools/list (and best-effort resources/list,
// prompts/list) and converts the returned tools into registry descriptors.
func (p *Pool) mirrorCapabilities(ctx context.Context, serverID string, transport *Transport) ([]tool.Descriptor, error) {
	result, err := transport.Call(ctx, "tools/list", nil, nil)
	if err != nil {
		return nil, err
	}

	resultMap, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mcp: unexpected tools/list result shape")
	}
	rawTools, _ := resultMap["tools"].([]any)

	descriptors := make([]tool.Descriptor, 0, len(rawTools))
	ids := make([]string, 0, len(rawTools))
	for _, raw := range rawTools {
		tm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tm["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := tm["description"].(string)
		schema, _ := tm["inputSchema"].(map[string]any)

		id := serverID + ":" + name
		descriptors = append(descriptors, tool.Descriptor{
			ID:              id,
			DisplayName:     name,
			Description:     desc,
			Category:        "mcp",
			ParameterSchema: schemaFromMCP(schema),
			MCPMetadata:     &tool.MCPMetadata{ServerID: serverID, OriginalName: name},
			Execute: func(ctx context.Context, args map[string]any) (any, error) {
				return p.invokeRemoteTool(ctx, serverID, name, args)
			},
		})
		ids = append(ids, id)
	}

	// resources/list, prompts/list are mirrored best-effort: their absence
	// (many MCP servers expose only tools) must not fail server connection.
	p.bestEffortCall(ctx, transport, "resources/list")
	p.bestEffortCall(ctx, transport, "prompts/list")

	p.mu.Lock()
	if e, ok := p.servers[serverID]; ok {
		e.toolIDs = ids
	}
	p.mu.Unlock()

	return descriptors, nil
}

func (p *Pool) bestEffortCall(ctx context.Context, transport *Transport, method string) {
	if _, err := transport.Call(ctx, method, nil, nil); err != nil {
		slog.Debug("mcp: optional capability call failed", "method", method, "error", err)
	}
}

// schemaFromMCP converts a raw JSON-Schema-shaped inputSchema (as returned
// by tools/list) into the registry's own parameter schema.
func schemaFromMCP(schema map[string]any) tool.ParameterSchema {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		return nil
	}
	required := map[string]bool{}
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	out := make(tool.ParameterSchema, len(props))
	for name, raw := range props {
		pm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t, _ := pm["type"].(string)
		var enum []any
		if e, ok := pm["enum"].([]any); ok {
			enum = e
		}
		out[name] = tool.Parameter{
			Type:     jsonSchemaType(t),
			Required: required[name],
			Enum:     enum,
		}
	}
	return out
}

func jsonSchemaType(t string) string {
	switch t {
	case "string", "number", "boolean", "array", "object":
		return t
	case "integer":
		return "number"
	default:
		return t
	}
}

func (p *Pool) invokeRemoteTool(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	p.mu.RLock()
	entry, ok := p.servers[serverID]
	p.mu.RUnlock()
	if !ok || entry.record.State != StateConnected {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, serverID)
	}

	result, err := entry.transport.Call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	}, nil)
	if err != nil {
		p.markFailed(serverID, err)
		return nil, err
	}
	return result, nil
}

// ExecuteTool routes a call with a fully-qualified "<server_id>:<tool_name>"
// id to its server. It fails fast, without waiting for reconnection, if the
// server is not currently connected.
func (p *Pool) ExecuteTool(ctx context.Context, fullID string, args map[string]any) (any, error) {
	serverID, toolName, ok := splitFullID(fullID)
	if !ok {
		return nil, fmt.Errorf("%w: malformed id %q", ErrServerNotConnected, fullID)
	}
	return p.invokeRemoteTool(ctx, serverID, toolName, args)
}

func splitFullID(fullID string) (serverID, toolName string, ok bool) {
	idx := strings.Index(fullID, ":")
	if idx < 0 {
		return "", "", false
	}
	return fullID[:idx], fullID[idx+1:], true
}

// RemoveServer disconnects a server, unregisters its mirrored tools from
// every bound registry, and drops it from the pool.
func (p *Pool) RemoveServer(serverID string) {
	p.mu.Lock()
	entry, ok := p.servers[serverID]
	if ok {
		delete(p.servers, serverID)
	}
	registries := append([]*tool.Registry(nil), p.registries...)
	p.mu.Unlock()

	if !ok {
		return
	}

	if entry.transport != nil {
		entry.transport.Close()
	}

	for _, r := range registries {
		for _, id := range entry.toolIDs {
			r.Unregister(id)
		}
	}

	p.connectedGauge.DeleteLabelValues(serverID)
	p.emit(Event{Type: EventToolsChanged, ServerID: serverID})
}

// ReconnectAll attempts to reconnect every server currently in the failed
// state, using its original configuration.
func (p *Pool) ReconnectAll(ctx context.Context) {
	p.mu.RLock()
	var toRetry []ServerConfig
	for _, e := range p.servers {
		if e.record.State == StateFailed {
			toRetry = append(toRetry, e.record.Config)
		}
	}
	p.mu.RUnlock()

	for _, cfg := range toRetry {
		if err := p.AddServer(ctx, cfg); err != nil {
			slog.Warn("mcp: reconnect failed", "server", cfg.ID, "error", err)
		}
	}
}

// AllTools returns every MCP-mirrored tool descriptor currently present in
// the pool's bound registries, deduplicated by id. It does not filter by
// server state: the tools of a server marked failed stay listed until
// RemoveServer unregisters them.
func (p *Pool) AllTools() []tool.Descriptor {
	p.mu.RLock()
	registries := append([]*tool.Registry(nil), p.registries...)
	p.mu.RUnlock()

	seen := make(map[string]bool)
	var out []tool.Descriptor
	for _, r := range registries {
		for _, d := range r.List() {
			if d.MCPMetadata == nil || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}

// Stats reports the current ServerRecord for every server in the pool.
func (p *Pool) Stats() map[string]ServerRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]ServerRecord, len(p.servers))
	for id, e := range p.servers {
		out[id] = e.record
	}
	return out
}

func (p *Pool) markFailed(serverID string, cause error) {
	p.mu.Lock()
	if e, ok := p.servers[serverID]; ok {
		e.record.State = StateFailed
		e.record.ErrorCount++
	}
	p.mu.Unlock()

	p.connectedGauge.WithLabelValues(serverID).Set(0)
	p.emit(Event{Type: EventServerError, ServerID: serverID, Err: cause})
}
