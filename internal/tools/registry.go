package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry maps tool names to tools and validates arguments before
// dispatching. It never returns a Go error to the loop for a failed call;
// failures become tool_error result documents.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	log     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		log:     slog.With("component", "tools"),
	}
}

// Register adds or replaces a tool. The schema is compiled once here so a
// malformed schema fails registration rather than the first call.
func (r *Registry) Register(t Tool) error {
	encoded, err := json.Marshal(t.Schema())
	if err != nil {
		return fmt.Errorf("encode schema for %s: %w", t.Name(), err)
	}
	compiled, err := jsonschema.CompileString(t.Name()+".schema.json", string(encoded))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = compiled
	return nil
}

// Unregister removes a tool; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order, the order used for LLM binding.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Run validates args and executes the named tool. Unknown tools, validation
// failures, panics and returned errors all surface as tool_error documents.
func (r *Registry) Run(ctx context.Context, tc *ToolContext, name string, args map[string]any) (result map[string]any) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return ToolError(CodeUnknownTool, fmt.Sprintf("unknown tool: %s", name), "")
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(normalizeForSchema(args)); err != nil {
		r.log.Warn("tool args rejected", "tool", name, "error", err)
		return ToolError(CodeArgsValidation, err.Error(), "SchemaValidationError")
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tool panicked", "tool", name, "panic", p)
			result = ToolError(CodeExecutionFailed, fmt.Sprint(p), "panic")
		}
	}()

	out, err := tool.Run(ctx, tc, args)
	if err != nil {
		r.log.Warn("tool failed", "tool", name, "error", err)
		return ToolError(CodeExecutionFailed, err.Error(), fmt.Sprintf("%T", err))
	}
	if out == nil {
		out = map[string]any{"type": name + "_result"}
	}
	return out
}

// normalizeForSchema round-trips args through JSON so numeric types match
// what the validator expects regardless of how the caller built the map.
func normalizeForSchema(args map[string]any) any {
	encoded, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return args
	}
	return out
}
