package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_RawObject(t *testing.T) {
	var out map[string]any
	err := ExtractJSON(`{"reasoning":"check math","shouldStop":true}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "check math", out["reasoning"])
	assert.Equal(t, true, out["shouldStop"])
}

func TestExtractJSON_FencedCodeBlock(t *testing.T) {
	raw := "```json\n{\"action\":\"calculator\",\"args\":{\"expression\":\"1+1\"}}\n```"
	var out map[string]any
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "calculator", out["action"])
}

func TestExtractJSON_EmbeddedInProse(t *testing.T) {
	raw := `Sure thing, here is my answer: {"finalAnswer": "352", "shouldStop": true} -- hope that helps!`
	var out map[string]any
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "352", out["finalAnswer"])
}

func TestExtractJSON_BraceInsideString(t *testing.T) {
	raw := `prefix {"content": "use {curly} in text", "ok": true} suffix`
	var out map[string]any
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "use {curly} in text", out["content"])
}

func TestExtractJSON_NoObject(t *testing.T) {
	var out map[string]any
	err := ExtractJSON("this is not json at all", &out)
	assert.ErrorIs(t, err, ErrNoJSON)
}
