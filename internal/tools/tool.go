// Package tools implements AgentUse's built-in tool set (C2): shell
// execution, file read/write/edit, and the agent-scoped store, each wrapping
// the C1 validators so a rejected command or path never reaches the
// filesystem or a shell. Tool failures are returned as a *Result, never a
// Go error, so the model can see and recover from them.
package tools

import (
	"context"
	"fmt"
	"math"
)

// Tool is the polymorphic capability every tool variant (builtin, MCP,
// sub-agent, resource-as-tool) implements, per spec.md §3.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's input JSON Schema (object shape).
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry holds the tool set for one execution. Tool names must be unique
// within a registry (invariant 2).
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry. Returns false without mutating the
// registry if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) bool {
	if _, exists := r.tools[t.Name()]; exists {
		return false
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return true
}

// Unregister removes a tool by name, if present.
func (r *Registry) Unregister(name string) {
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Len reports how many tools are registered.
func (r *Registry) Len() int { return len(r.order) }

// ValidateArgs checks args against a tool's declared JSON Schema (object
// type, "required" properties present, and each supplied property's value
// matching its declared JSON type) before the call reaches Execute, per
// spec.md's "args are validated at the tool-set layer, before invocation."
// It is a shape check, not a full schema validator: nested schemas,
// "enum", "pattern", and the like are not evaluated.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]any)
	if names, ok := schema["required"].([]string); ok {
		for _, name := range names {
			required = append(required, name)
		}
	}
	for _, r := range required {
		name, _ := r.(string)
		if name == "" {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" || value == nil {
			continue
		}
		if !jsonValueMatchesType(value, wantType) {
			return fmt.Errorf("argument %q: want type %s, got %T", name, wantType, value)
		}
	}
	return nil
}

// jsonValueMatchesType reports whether v, as decoded from JSON by
// encoding/json into a map[string]any, satisfies the JSON Schema primitive
// type name want.
func jsonValueMatchesType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
