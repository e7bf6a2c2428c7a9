// Package tools holds the tool executors agents may invoke during a run.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ExecutorFunc runs one tool invocation. Log lines are reported to the run
// as tool_log events before the result.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (result json.RawMessage, logs []string, err error)

// Definition describes a tool to the model and binds its executor.
type Definition struct {
	Name        string
	Description string
	// Properties is a JSON-schema properties object.
	Properties map[string]any
	Required   []string
	Exec       ExecutorFunc
}

// Registry stores tool definitions keyed by tool name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// DefaultRegistry holds the builtin tools.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Definition),
	}
}

// Register adds a tool.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("executor already registered for %s", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Definitions returns the named tools in the given order, skipping unknown
// names. A nil names slice returns every tool sorted by name.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if names == nil {
		out := make([]Definition, 0, len(r.tools))
		for _, def := range r.tools {
			out = append(out, def)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		if def, ok := r.tools[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

// Execute runs the executor for the tool name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, []string, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("tool name is required")
	}
	def, ok := r.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("no executor registered for %s", name)
	}
	return def.Exec(ctx, args)
}

// MustRegister adds a tool to the default registry or panics.
func MustRegister(def Definition) {
	if err := DefaultRegistry.Register(def); err != nil {
		panic(err)
	}
}
