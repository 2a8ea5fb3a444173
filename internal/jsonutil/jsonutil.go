// Package jsonutil provides lenient JSON extraction for parsing LLM output.
//
// Model responses are nominally JSON but are frequently wrapped in prose,
// fenced code blocks, or truncated. ExtractJSON centralizes the fallback
// chain so every call site (reasoning, workflow) behaves the same way
// instead of reimplementing its own parser.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no JSON object could be located in the input.
var ErrNoJSON = fmt.Errorf("jsonutil: no JSON object found in input")

// ExtractJSON decodes v from raw using a three-stage lenient strategy:
//  1. Parse raw as-is.
//  2. Strip fenced code block markers ("```json" / "```") and retry.
//  3. Extract the first balanced {...} substring and parse that.
//
// It returns ErrNoJSON if none of the stages succeed.
func ExtractJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	cleaned := stripFences(raw)
	if cleaned != raw {
		if err := json.Unmarshal([]byte(cleaned), v); err == nil {
			return nil
		}
	}

	obj := firstObject(cleaned)
	if obj == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return ErrNoJSON
	}
	return nil
}

// stripFences removes surrounding markdown code-fence markers, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstObject extracts the first balanced {...} substring, tracking string
// literals and escapes so braces inside quoted values don't break the scan.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
