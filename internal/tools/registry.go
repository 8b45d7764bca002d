// Package tools maintains the registry of callables surfaced to the
// model: the builtin set and tool groups contributed by MCP servers.
// The registry owns argument validation; implementations receive a
// dictionary that already passed their schema.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrNotFound is returned when invoking an unregistered tool.
var ErrNotFound = errors.New("tool not found")

// FinishTaskName is the sentinel tool the model calls to end the turn
// loop.
const FinishTaskName = "finish_task"

// Tool is one callable. Invoke receives arguments already validated
// against the descriptor's parameter schema.
type Tool interface {
	Descriptor() models.ToolDescriptor
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

type entry struct {
	tool   Tool
	name   string
	params json.RawMessage
	schema *jsonschema.Schema
}

// Registry maps tool names to implementations. Builtins register once
// at startup; MCP groups are swapped atomically as servers finish
// discovery or reconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: map[string]*entry{},
		logger:  slog.Default().With("component", "tools"),
	}
}

// Register adds one tool. The name must be unused and the descriptor's
// parameter schema must compile.
func (r *Registry) Register(t Tool) error {
	e, err := newEntry(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.name]; ok {
		return fmt.Errorf("register %s: %w", e.name, ErrDuplicateTool)
	}
	r.entries[e.name] = e
	return nil
}

// ReplaceGroup atomically swaps every tool whose name starts with
// prefix for the new set. Each new tool must carry the prefix, and
// must not collide with a name outside the group.
func (r *Registry) ReplaceGroup(prefix string, group []Tool) error {
	incoming := make(map[string]*entry, len(group))
	for _, t := range group {
		e, err := newEntry(t)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(e.name, prefix) {
			return fmt.Errorf("replace group %s: tool %s lacks the group prefix", prefix, e.name)
		}
		if _, ok := incoming[e.name]; ok {
			return fmt.Errorf("replace group %s: %s: %w", prefix, e.name, ErrDuplicateTool)
		}
		incoming[e.name] = e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name := range r.entries {
		if strings.HasPrefix(name, prefix) {
			delete(r.entries, name)
			removed++
		}
	}
	for name, e := range incoming {
		r.entries[name] = e
	}
	r.logger.Debug("tool group replaced", "prefix", prefix, "removed", removed, "added", len(incoming))
	return nil
}

// Descriptors returns every registered tool sorted by name, the set
// surfaced to the model on each request. Descriptors are read live
// from the tools so ones that rebuild their schema between requests
// (activate_skill's name enum) always advertise the current shape.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, e.tool)
	}
	r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (models.ToolDescriptor, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return models.ToolDescriptor{}, false
	}
	return e.tool.Descriptor(), true
}

// Invoke parses and validates raw JSON arguments, then runs the tool.
// Validation and JSON errors come back as errors for the caller to
// fold into the tool-result message.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	var params json.RawMessage
	var schema *jsonschema.Schema
	if ok {
		params, schema = e.params, e.schema
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	// Validation stays in step with the advertised schema: recompile
	// when the tool rebuilt its parameters since registration.
	if desc := e.tool.Descriptor(); !bytes.Equal(desc.Parameters, params) {
		fresh, err := compileSchema(desc.Name, desc.Parameters)
		if err != nil {
			return "", fmt.Errorf("compile schema for %s: %w", name, err)
		}
		schema = fresh
		r.mu.Lock()
		e.params, e.schema = desc.Parameters, fresh
		r.mu.Unlock()
	}

	args := map[string]any{}
	if len(rawArgs) > 0 && string(rawArgs) != "null" {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("%s: invalid arguments JSON: %w", name, err)
		}
	}
	if schema != nil {
		if err := schema.Validate(args); err != nil {
			return "", fmt.Errorf("%s: arguments rejected by schema: %w", name, err)
		}
	}
	return e.tool.Invoke(ctx, args)
}

func newEntry(t Tool) (*entry, error) {
	desc := t.Descriptor()
	if desc.Name == "" {
		return nil, errors.New("tool has no name")
	}
	schema, err := compileSchema(desc.Name, desc.Parameters)
	if err != nil {
		return nil, err
	}
	return &entry{tool: t, name: desc.Name, params: desc.Parameters, schema: schema}, nil
}

func compileSchema(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString(name, string(params))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return compiled, nil
}
