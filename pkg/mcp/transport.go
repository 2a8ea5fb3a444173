// Package mcp implements the Model Context Protocol client used to reach
// remote tool servers: transport.go speaks the JSON-RPC/SSE wire protocol
// for one server, pool.go owns the lifecycle of many servers and mirrors
// their tools into agent-owned registries.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentcore/pkg/httpclient"
)

var tracer = otel.Tracer("github.com/kadirpekel/agentcore/pkg/mcp")

// ProtocolVersion is the MCP protocol version this client announces.
const ProtocolVersion = "2024-11-05"

// TransportKind selects how the client reaches a server: HTTP POST
// (standard or streamable_http) or a stdio subprocess. Both HTTP kinds read
// each response by its Content-Type; streamable_http additionally allows
// the one-time downgrade to standard described on Call.
type TransportKind string

const (
	TransportStandard       TransportKind = "standard"
	TransportStreamableHTTP TransportKind = "streamable_http"
	TransportStdio          TransportKind = "stdio"
)

const defaultRequestTimeout = 30 * time.Second

// ErrNoStreamData is returned when an SSE response ends without a result,
// error or final frame, whether or not it yielded any other payload. On a
// streamable_http server it signals the caller to retry in standard mode.
var ErrNoStreamData = fmt.Errorf("mcp: sse stream ended with no payload")

// errUnrecognizedResponse marks a response whose Content-Type is neither
// application/json nor text/event-stream.
var errUnrecognizedResponse = fmt.Errorf("mcp: response is neither JSON nor SSE")

// RPCError is a JSON-RPC 2.0 error envelope, returned by Call as ErrMCPError.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// StreamHandler receives every non-final SSE frame observed during a call.
type StreamHandler func(frame map[string]any)

// TransportConfig configures a Transport for a single server.
type TransportConfig struct {
	ServerID  string
	URL       string
	APIKey    string
	Transport TransportKind
	Timeout   time.Duration
	Client    *httpclient.Client

	// Command, Args and Env configure a stdio transport: Command is
	// launched as a subprocess speaking MCP over stdin/stdout. Unused for
	// the HTTP transports.
	Command string
	Args    []string
	Env     map[string]string
}

// Transport speaks JSON-RPC 2.0 over HTTP POST to one MCP server, handling
// both the plain-JSON and SSE response modes and the session-id handshake.
// For stdio-configured servers it instead delegates to a stdioClient
// wrapping an mcp-go subprocess client, behind the same Call signature.
type Transport struct {
	cfg    TransportConfig
	client *httpclient.Client
	stdio  *stdioClient

	mu          sync.Mutex
	workingMode TransportKind

	sessionMu sync.RWMutex
	sessionID string

	nextID int64
}

// NewTransport creates a Transport for one server.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	mode := cfg.Transport
	if mode == "" {
		mode = TransportStandard
	}

	if mode == TransportStdio {
		return &Transport{
			cfg:         cfg,
			stdio:       newStdioClient(cfg.Command, cfg.Args, cfg.Env),
			workingMode: mode,
		}
	}

	client := cfg.Client
	if client == nil {
		// Reconnection already happens at the pool level (ReconnectAll), so the
		// transport itself does not retry failed calls.
		client = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(0),
		)
	}

	return &Transport{
		cfg:         cfg,
		client:      client,
		workingMode: mode,
	}
}

// WorkingMode reports the transport mode currently in effect, which may
// differ from the configured mode after an automatic downgrade.
func (t *Transport) WorkingMode() TransportKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workingMode
}

// Close releases any resources the transport holds. For a stdio transport
// this terminates the subprocess; for HTTP transports it is a no-op since
// the underlying client owns no long-lived connection to tear down.
func (t *Transport) Close() {
	if t.stdio != nil {
		t.stdio.close()
	}
}

// SessionID returns the session id learned so far, or "" if none yet.
func (t *Transport) SessionID() string {
	t.sessionMu.RLock()
	defer t.sessionMu.RUnlock()
	return t.sessionID
}

// Call issues one JSON-RPC request and returns its result. For servers
// configured as streamable_http, a response that is neither valid JSON nor
// valid SSE on an initialize or tools/list call triggers one automatic
// retry in standard mode, which is then remembered for later calls.
func (t *Transport) Call(ctx context.Context, method string, params any, handler StreamHandler) (any, error) {
	ctx, span := tracer.Start(ctx, "mcp.Call", trace.WithAttributes(
		attribute.String("mcp.server_id", t.cfg.ServerID),
		attribute.String("mcp.method", method),
	))
	defer span.End()

	if t.stdio != nil {
		return t.stdio.call(ctx, method, params)
	}

	result, err := t.doCall(ctx, method, params, handler)
	if err == nil {
		return result, nil
	}

	if !shouldDowngrade(err, method, t.WorkingMode()) {
		return nil, err
	}

	t.mu.Lock()
	t.workingMode = TransportStandard
	t.mu.Unlock()

	return t.doCall(ctx, method, params, handler)
}

func shouldDowngrade(err error, method string, mode TransportKind) bool {
	if mode != TransportStreamableHTTP {
		return false
	}
	if method != "initialize" && method != "tools/list" {
		return false
	}
	return err == errUnrecognizedResponse || err == ErrNoStreamData
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

func (t *Transport) doCall(ctx context.Context, method string, params any, handler StreamHandler) (any, error) {
	id := atomic.AddInt64(&t.nextID, 1)
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	if sid := t.SessionID(); sid != "" {
		httpReq.Header.Set("mcp-session-id", sid)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp: request failed: %w", err)
	}
	defer resp.Body.Close()

	// First writer wins: a header seen here only takes effect if no session
	// id has been captured yet (from a prior header or the init body).
	t.captureSessionID(resp.Header.Get("mcp-session-id"))

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return t.handleJSON(resp.Body)
	case strings.HasPrefix(contentType, "text/event-stream"):
		return t.handleSSE(resp.Body, handler)
	default:
		return nil, errUnrecognizedResponse
	}
}

func (t *Transport) handleJSON(body io.Reader) (any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("mcp: reading response: %w", err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, errUnrecognizedResponse
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	t.captureSessionFromResult(rpcResp.Result)
	return rpcResp.Result, nil
}

func (t *Transport) handleSSE(body io.Reader, handler StreamHandler) (any, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawPayload := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		sawPayload = true

		if rawErr, ok := frame["error"]; ok {
			return nil, parseFrameError(rawErr)
		}

		isFinal, _ := frame["final"].(bool)
		frameType, _ := frame["type"].(string)
		if result, hasResult := frame["result"]; hasResult {
			t.captureSessionFromResult(result)
			return result, nil
		}
		if isFinal || frameType == "final" {
			return frame, nil
		}

		if handler != nil {
			handler(frame)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcp: reading sse stream: %w", err)
	}
	if !sawPayload {
		return nil, ErrNoStreamData
	}
	return nil, ErrNoStreamData
}

func parseFrameError(raw any) error {
	switch v := raw.(type) {
	case map[string]any:
		code, _ := v["code"].(float64)
		msg, _ := v["message"].(string)
		return &RPCError{Code: int(code), Message: msg}
	case string:
		return &RPCError{Message: v}
	default:
		return &RPCError{Message: fmt.Sprintf("%v", v)}
	}
}

// captureSessionID applies the "first writer wins" rule for a header value.
func (t *Transport) captureSessionID(sid string) {
	if sid == "" {
		return
	}
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	if t.sessionID == "" {
		t.sessionID = sid
	}
}

// captureSessionFromResult applies the same rule when the session id is
// instead supplied inline in an initialize response body.
func (t *Transport) captureSessionFromResult(result any) {
	m, ok := result.(map[string]any)
	if !ok {
		return
	}
	if sid, ok := m["sessionId"].(string); ok {
		t.captureSessionID(sid)
	}
}
