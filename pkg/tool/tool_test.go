package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calculatorDescriptor() Descriptor {
	return Descriptor{
		ID:          "calculator",
		DisplayName: "Calculator",
		Description: "Evaluates a basic arithmetic expression",
		Category:    "math",
		ParameterSchema: ParameterSchema{
			"expression": {Type: "string", Required: true},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return args["expression"], nil
		},
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry()
	d := calculatorDescriptor()

	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(d))
	assert.Len(t, r.List(), 1)
}

func TestRegister_InvalidDescriptor(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Descriptor{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidTool)
}

func TestExecute_MissingRequiredParam(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculatorDescriptor()))

	_, err := r.Execute(context.Background(), "calculator", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestExecute_TypeMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculatorDescriptor()))

	_, err := r.Execute(context.Background(), "calculator", map[string]any{"expression": 42})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestExecute_EnumViolation(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		ID:          "weather",
		DisplayName: "Weather",
		Description: "Gets current weather",
		ParameterSchema: ParameterSchema{
			"unit": {Type: "string", Enum: []any{"celsius", "fahrenheit"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	}
	require.NoError(t, r.Register(d))

	_, err := r.Execute(context.Background(), "weather", map[string]any{"unit": "kelvin"})
	assert.ErrorIs(t, err, ErrEnumViolation)
}

func TestExecute_ExtraArgsForwarded(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		ID:              "echo",
		DisplayName:     "Echo",
		Description:     "Echoes args back",
		ParameterSchema: ParameterSchema{},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
	require.NoError(t, r.Register(d))

	result, err := r.Execute(context.Background(), "echo", map[string]any{"unlisted": "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", result.(map[string]any)["unlisted"])
}

func TestExecute_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestResolve_ByOriginalName(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		ID:          "amap:maps_weather",
		DisplayName: "Maps Weather",
		Description: "Looks up weather via amap",
		MCPMetadata: &MCPMetadata{ServerID: "amap", OriginalName: "maps_weather"},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "sunny", nil
		},
	}
	require.NoError(t, r.Register(d))

	result, err := r.Execute(context.Background(), "maps_weather", map[string]any{"city": "Hangzhou"})
	require.NoError(t, err)
	assert.Equal(t, "sunny", result)
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		ID:          "amap:maps_weather",
		DisplayName: "Maps Weather",
		Description: "Looks up weather via amap",
		MCPMetadata: &MCPMetadata{ServerID: "amap", OriginalName: "maps_weather"},
		Execute:     func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	}
	require.NoError(t, r.Register(d))

	first, ok1 := r.Resolve("maps_weather")
	require.True(t, ok1)
	second, ok2 := r.Resolve(first)
	require.True(t, ok2)
	assert.Equal(t, first, second)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculatorDescriptor()))
	r.Unregister("calculator")
	assert.Empty(t, r.List())

	// Unregistering an unknown id is a no-op, not an error.
	r.Unregister("calculator")
}

func TestByCategory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculatorDescriptor()))

	found := r.ByCategory("math")
	require.Len(t, found, 1)
	assert.Equal(t, "calculator", found[0].ID)
	assert.Empty(t, r.ByCategory("weather"))
}

func TestJSONSchema_ReflectsRequiredAndEnum(t *testing.T) {
	d := Descriptor{
		ID:          "weather",
		DisplayName: "Weather",
		Description: "Looks up current weather",
		ParameterSchema: ParameterSchema{
			"city": {Type: "string", Required: true},
			"unit": {Type: "string", Enum: []any{"celsius", "fahrenheit"}},
		},
	}

	schema := d.JSONSchema()
	assert.Equal(t, "object", schema["type"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"city"}, required)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "unit")
}
