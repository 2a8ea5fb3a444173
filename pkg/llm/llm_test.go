package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "352"}, FinishReason: "stop"}},
			Usage:   Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
			Model:   "gpt-4o-mini",
		})
	}))
	defer server.Close()

	gw := New(Config{BaseURL: server.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	result, err := gw.Generate(context.Background(), "compute 15*23+7", GenerateOptions{Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "352", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{}})
	}))
	defer server.Close()

	gw := New(Config{BaseURL: server.URL, Model: "gpt-4o-mini"})
	_, err := gw.Generate(context.Background(), "hi", GenerateOptions{})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestGenerate_BadRequestNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer server.Close()

	gw := New(Config{BaseURL: server.URL, Model: "gpt-4o-mini"})
	_, err := gw.Generate(context.Background(), "hi", GenerateOptions{})
	assert.ErrorIs(t, err, ErrLLMBadRequest)
}

func TestGenerateStream_AggregatesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, delta := range []string{"15*23", "+7", "=352"} {
			chunk := map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": delta}}}}
			data, _ := json.Marshal(chunk)
			w.Write([]byte("data: " + string(data) + "\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	gw := New(Config{BaseURL: server.URL, Model: "gpt-4o-mini"})
	events, err := gw.GenerateStream(context.Background(), "compute", GenerateOptions{Streaming: true})
	require.NoError(t, err)

	var deltas string
	var final *Result
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		deltas += ev.Delta
	}

	require.NotNil(t, final)
	assert.Equal(t, "15*23+7=352", deltas)
	assert.Equal(t, deltas, final.Content)
}

func TestBuildMessages_SystemPromptOverride(t *testing.T) {
	gw := New(Config{BaseURL: "http://example.invalid", Model: "m", SystemPrompt: "default"})
	msgs := gw.buildMessages("hello", GenerateOptions{SystemPromptOverride: "override"})
	require.NotEmpty(t, msgs)
	assert.Equal(t, "override", msgs[0].Content)
}
