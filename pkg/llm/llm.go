// Package llm adapts an OpenAI-compatible chat-completions endpoint to the
// generate(prompt, opts) contract used by the reasoning engine. The
// concrete backend (model, credentials) is a deployment detail; only the
// wire contract is specified.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentcore/pkg/httpclient"
)

// Error kinds surfaced by Generate/GenerateStream.
var (
	// ErrLLMUnavailable marks a transient failure a caller may retry.
	ErrLLMUnavailable = fmt.Errorf("llm: backend unavailable")
	// ErrLLMBadRequest marks a fatal, non-retryable failure.
	ErrLLMBadRequest = fmt.Errorf("llm: bad request")
)

var tracer = otel.Tracer("github.com/kadirpekel/agentcore/pkg/llm")

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions is the enumerated option set a caller may supply.
type GenerateOptions struct {
	Temperature          float64
	MaxTokens            int
	ConversationHistory  []Message
	Streaming            bool
	SystemPromptOverride string
}

// Usage mirrors the OpenAI-compatible usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the gateway's response to a single generate call.
type Result struct {
	Content      string
	Usage        Usage
	Model        string
	FinishReason string
}

// Config configures a Gateway.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	HTTPClient   *httpclient.Client
}

// Gateway adapts a deployed OpenAI-compatible backend.
type Gateway struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	client       *httpclient.Client
}

// New creates a Gateway. If cfg.HTTPClient is nil, a default retrying
// client is constructed, tuned to back off on the rate-limit and
// transient-failure statuses an OpenAI-compatible endpoint returns.
func New(cfg Config) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders))
	}
	return &Gateway{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		client:       client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
	Model   string       `json:"model"`
}

func (g *Gateway) buildMessages(prompt string, opts GenerateOptions) []chatMessage {
	sys := g.systemPrompt
	if opts.SystemPromptOverride != "" {
		sys = opts.SystemPromptOverride
	}

	messages := make([]chatMessage, 0, len(opts.ConversationHistory)+2)
	if sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}
	for _, m := range opts.ConversationHistory {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return messages
}

// Generate performs one non-streaming chat-completion call.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts GenerateOptions) (Result, error) {
	ctx, span := tracer.Start(ctx, "llm.Generate", trace.WithAttributes(
		attribute.String("llm.model", g.model),
	))
	defer span.End()

	reqBody := chatRequest{
		Model:       g.model,
		Messages:    g.buildMessages(prompt, opts),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding request: %v", ErrLLMBadRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", ErrLLMBadRequest, err)
	}
	g.setHeaders(httpReq)

	// The retrying client returns the last response alongside an error for
	// non-2xx statuses; only a missing response is a transport failure.
	resp, err := g.client.Do(httpReq)
	if resp == nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrLLMUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return Result{}, fmt.Errorf("%w: status %d: %s", ErrLLMUnavailable, resp.StatusCode, string(data))
		}
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrLLMBadRequest, resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", ErrLLMUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty choices", ErrLLMUnavailable)
	}

	choice := parsed.Choices[0]
	return Result{
		Content:      choice.Message.Content,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

// StreamEvent is one element of a GenerateStream sequence: either a content
// delta, or (on the final event) the aggregated Result.
type StreamEvent struct {
	Delta string
	Final *Result
	Err   error
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Model string `json:"model"`
}

// GenerateStream performs a streaming chat-completion call, emitting content
// deltas as they arrive and a final event carrying the aggregated Result.
// If ctx is cancelled mid-stream, the channel receives an ErrLLMUnavailable
// wrapping context.Canceled and is closed.
func (g *Gateway) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamEvent, error) {
	ctx, span := tracer.Start(ctx, "llm.GenerateStream", trace.WithAttributes(
		attribute.String("llm.model", g.model),
	))

	reqBody := chatRequest{
		Model:       g.model,
		Messages:    g.buildMessages(prompt, opts),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("%w: encoding request: %v", ErrLLMBadRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, fmt.Errorf("%w: building request: %v", ErrLLMBadRequest, err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		span.End()
		return nil, fmt.Errorf("%w: status %d: %s", ErrLLMUnavailable, resp.StatusCode, string(data))
	}

	events := make(chan StreamEvent)
	go func() {
		defer span.End()
		defer resp.Body.Close()
		defer close(events)
		g.consumeStream(ctx, resp.Body, events)
	}()

	return events, nil
}

func (g *Gateway) consumeStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	var content strings.Builder
	var usage Usage
	var model, finishReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			events <- StreamEvent{Err: fmt.Errorf("%w: %v", ErrLLMUnavailable, ctx.Err())}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("llm: skipping unparsable stream chunk", "error", err)
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				content.WriteString(delta)
				events <- StreamEvent{Delta: delta}
			}
			if chunk.Choices[0].FinishReason != "" {
				finishReason = chunk.Choices[0].FinishReason
			}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Err: fmt.Errorf("%w: %v", ErrLLMUnavailable, err)}
		return
	}

	events <- StreamEvent{Final: &Result{
		Content:      content.String(),
		Usage:        usage,
		Model:        model,
		FinishReason: finishReason,
	}}
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
}
