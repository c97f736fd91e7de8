// Package tools registers native capabilities and dispatches engine-initiated
// tool invocations to them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler is a native capability invokable by the reasoning engine.
type Handler interface {
	// Name is the tool identifier used in tool requests.
	Name() string

	// Description explains what the tool does.
	Description() string

	// Schema is the JSON schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. The returned value is marshaled into the
	// correlated RPC result.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry holds registered handlers with compiled argument schemas.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register adds a handler, compiling its argument schema. Registering a
// duplicate name is an error.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	var schema *jsonschema.Schema
	if raw := h.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := name + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("add schema for %s: %w", name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.handlers[name] = h
	if schema != nil {
		r.schemas[name] = schema
	}
	return nil
}

// Get returns the handler for a tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Validate checks arguments against the tool's schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid args for %s: %w", name, err)
	}
	return nil
}

// List returns registered tool names sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
