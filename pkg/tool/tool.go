// Package tool implements the unified tool catalog: a named registry that
// holds both built-in tools and wrappers mirroring remote MCP tools behind
// one execution and validation path.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Parameter describes one entry of a tool's parameter schema.
type Parameter struct {
	Type     string // "string", "number", "boolean", "array", "object"
	Required bool
	Enum     []any
}

// ParameterSchema maps parameter name to its Parameter definition.
type ParameterSchema map[string]Parameter

// MCPMetadata is set on descriptors that mirror a remote MCP tool.
type MCPMetadata struct {
	ServerID     string
	ServerName   string
	OriginalName string
}

// ExecuteFunc performs the tool's action given validated arguments.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Descriptor is the registration and dispatch unit of the tool catalog.
// For mirrored MCP tools Id is "<server_id>:<tool_name>" and MCPMetadata's
// OriginalName retains the bare server-side name.
type Descriptor struct {
	ID              string
	DisplayName     string
	Description     string
	Category        string
	Tags            []string
	ParameterSchema ParameterSchema
	Execute         ExecuteFunc
	MCPMetadata     *MCPMetadata
}

// Error kinds returned by Registry operations.
var (
	ErrInvalidTool   = fmt.Errorf("tool: invalid tool descriptor")
	ErrToolNotFound  = fmt.Errorf("tool: not found")
	ErrMissingParam  = fmt.Errorf("tool: missing required parameter")
	ErrTypeMismatch  = fmt.Errorf("tool: parameter type mismatch")
	ErrEnumViolation = fmt.Errorf("tool: parameter value not in enum")
)

// Registry is a thread-safe catalog of tool descriptors.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Descriptor
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Descriptor)}
}

// Register adds d to the catalog. Registration is idempotent by id: a
// second Register call with an already-registered id is a silent no-op.
// It rejects descriptors with a nil Execute or an empty DisplayName or
// Description with ErrInvalidTool.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" || d.DisplayName == "" || d.Description == "" || d.Execute == nil {
		return fmt.Errorf("%w: id=%q display_name=%q description=%q execute_set=%v",
			ErrInvalidTool, d.ID, d.DisplayName, d.Description, d.Execute != nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[d.ID]; exists {
		return nil
	}

	dCopy := d
	r.items[d.ID] = &dCopy
	r.order = append(r.order, d.ID)
	return nil
}

// Unregister removes a descriptor by id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return
	}
	delete(r.items, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the descriptor registered under id (no name resolution).
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.items[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// List returns every registered descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.items[id])
	}
	return out
}

// ByCategory returns every registered descriptor whose Category matches c.
func (r *Registry) ByCategory(c string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, id := range r.order {
		if d := r.items[id]; d.Category == c {
			out = append(out, *d)
		}
	}
	return out
}

// Resolve maps a name the model might emit (either the full registry id, or
// the bare server-side tool name) to a registered descriptor id. It first
// tries a direct id match, then scans registered descriptors for an
// mcp_metadata.original_name equal to name, returning the first match.
// Resolve is idempotent: Resolve(Resolve(n)) == Resolve(n).
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.items[name]; ok {
		return name, true
	}

	for _, id := range r.order {
		d := r.items[id]
		if d.MCPMetadata != nil && d.MCPMetadata.OriginalName == name {
			return id, true
		}
	}
	return "", false
}

// Execute resolves name to a descriptor, validates args against its
// parameter schema, and invokes its Execute function. Extra arguments not
// present in the schema are forwarded to Execute untouched.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	id, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	r.mu.RLock()
	d := *r.items[id]
	r.mu.RUnlock()

	if err := validate(d.ParameterSchema, args); err != nil {
		return nil, err
	}

	return d.Execute(ctx, args)
}

// JSONSchema renders a descriptor's parameter schema as a plain JSON
// Schema document, so built-in tools and MCP-mirrored tools (whose schema
// already arrives as a map off the wire) can be handed to callers in one
// shape regardless of origin.
func (d Descriptor) JSONSchema() map[string]any {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for name, p := range d.ParameterSchema {
		s := &jsonschema.Schema{Type: p.Type}
		for _, e := range p.Enum {
			s.Enum = append(s.Enum, e)
		}
		props.Set(name, s)
		if p.Required {
			required = append(required, name)
		}
	}

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func validate(schema ParameterSchema, args map[string]any) error {
	for name, param := range schema {
		val, present := args[name]
		if !present {
			if param.Required {
				return fmt.Errorf("%w: %q", ErrMissingParam, name)
			}
			continue
		}
		if param.Type != "" && !typeMatches(param.Type, val) {
			return fmt.Errorf("%w: %q expected %s, got %T", ErrTypeMismatch, name, param.Type, val)
		}
		if len(param.Enum) > 0 && !enumContains(param.Enum, val) {
			return fmt.Errorf("%w: %q value %v not in enum %v", ErrEnumViolation, name, val, param.Enum)
		}
	}
	return nil
}

func typeMatches(expected string, val any) bool {
	switch expected {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(val) {
			return true
		}
	}
	return false
}
