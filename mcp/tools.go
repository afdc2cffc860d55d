package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"workspace-mcp/worker"
)

// Tool is one entry in the tools/call namespace.
type Tool interface {
	Name() string
	Description() string
	InputSchema() Schema
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Pinned is implemented by tools that must run on a named execution context,
// e.g. ones that mutate shared workspace state.
type Pinned interface {
	ExecContext() string
}

// ToolDescriptor is the tools/list view of a Tool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

var ErrDuplicateTool = errors.New("tool already registered")

// ToolSet is the second-level registry dispatched by tools/call. Like the method registry
// it is filled at startup and only read afterwards.
type ToolSet struct {
	tools     map[string]Tool
	order     []string
	executors map[string]worker.Executor
}

func NewToolSet() *ToolSet {
	return &ToolSet{
		tools:     make(map[string]Tool),
		executors: make(map[string]worker.Executor),
	}
}

func (s *ToolSet) Add(tools ...Tool) error {
	for _, t := range tools {
		if _, ok := s.tools[t.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		s.tools[t.Name()] = t
		s.order = append(s.order, t.Name())
	}
	return nil
}

// BindExecutor provides the executor for tools pinned to name.
func (s *ToolSet) BindExecutor(name string, exec worker.Executor) {
	s.executors[name] = exec
}

func (s *ToolSet) Get(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Descriptors lists tools in registration order.
func (s *ToolSet) Descriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name]
		out = append(out, ToolDescriptor{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return out
}

// Call runs the named tool, on its pinned executor when it has one.
func (s *ToolSet) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, IllegalArgument("Unknown tool: %s", name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	p, ok := t.(Pinned)
	if !ok || p.ExecContext() == "" {
		return t.Call(ctx, args)
	}
	exec, ok := s.executors[p.ExecContext()]
	if !ok {
		return nil, fmt.Errorf("tool %s: no executor bound for context %q", name, p.ExecContext())
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	err := exec.Submit(ctx, func() {
		result, err := t.Call(ctx, args)
		done <- outcome{result, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
