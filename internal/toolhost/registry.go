// Package toolhost owns the name-to-capability mapping the agent dispatches
// against, together with the machinery that runs one batch of tool calls:
// the [Invoker] (one call inside a failure boundary) and the [Dispatcher]
// (bounded fan-out with a join-all barrier).
//
// Capabilities come from two places: builtin Go tools registered with
// [Builder.Register] and tools discovered on MCP servers through
// [Builder.RegisterServer]. Once [Builder.Build] returns, the [Registry] is
// immutable and safe for concurrent reads from every dispatch worker.
package toolhost

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/campusagent/internal/mcp"
	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a registered
// name to be offered as a correction for an unknown one.
const suggestThreshold = 0.85

type entry struct {
	tool   tools.Tool
	server string // empty for builtin tools
}

// Builder accumulates tools before the registry is frozen. It is not safe for
// concurrent use.
type Builder struct {
	entries map[string]entry
	order   []string
	servers []*mcp.Server
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]entry)}
}

// Register adds a builtin tool. Names must be unique across builtin and MCP
// tools.
func (b *Builder) Register(t tools.Tool) error {
	return b.add(t, "")
}

// RegisterServer exposes every tool the MCP server advertised. The registry
// takes ownership of the session and closes it in [Registry.Close], including
// when registration of one of its tools fails.
func (b *Builder) RegisterServer(s *mcp.Server) error {
	b.servers = append(b.servers, s)
	var errs []error
	for _, rt := range s.Tools() {
		t := tools.Tool{
			Definition: llm.ToolDefinition{
				Name:        rt.Name,
				Description: rt.Description,
				Parameters:  rt.InputSchema,
			},
			Handler: remoteHandler(s, rt.Name),
		}
		if err := b.add(t, s.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func remoteHandler(s *mcp.Server, name string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return s.Call(ctx, name, args)
	}
}

func (b *Builder) add(t tools.Tool, server string) error {
	name := t.Definition.Name
	if name == "" {
		return fmt.Errorf("toolhost: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("toolhost: tool %q has no handler", name)
	}
	if prev, ok := b.entries[name]; ok {
		owner := "builtin"
		if prev.server != "" {
			owner = "mcp server " + prev.server
		}
		return fmt.Errorf("toolhost: tool %q already registered by %s", name, owner)
	}
	b.entries[name] = entry{tool: t, server: server}
	b.order = append(b.order, name)
	return nil
}

// Build freezes the builder into a [Registry]. The builder must not be used
// afterwards.
func (b *Builder) Build() *Registry {
	r := &Registry{
		entries: b.entries,
		names:   slices.Clone(b.order),
		servers: b.servers,
	}
	for _, name := range r.names {
		r.defs = append(r.defs, b.entries[name].tool.Definition)
	}
	b.entries, b.order, b.servers = nil, nil, nil
	return r
}

// Registry is the read-only tool mapping. The zero value is an empty
// registry.
type Registry struct {
	entries map[string]entry
	names   []string
	defs    []llm.ToolDefinition
	servers []*mcp.Server
}

// Lookup returns the handler registered under name. An unknown name is a
// normal outcome reported through ok.
func (r *Registry) Lookup(name string) (tools.Handler, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool.Handler, true
}

// Source reports where a tool comes from: "builtin" or the MCP server name.
func (r *Registry) Source(name string) string {
	e, ok := r.entries[name]
	if !ok {
		return ""
	}
	if e.server == "" {
		return "builtin"
	}
	return e.server
}

// Definitions returns the tool definitions offered to the LLM in
// registration order. The slice is a copy.
func (r *Registry) Definitions() []llm.ToolDefinition {
	return slices.Clone(r.defs)
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names)
}

// Suggest returns the registered name most similar to name, or "" when
// nothing is close enough.
func (r *Registry) Suggest(name string) string {
	best, bestScore := "", 0.0
	for _, candidate := range r.names {
		score := matchr.JaroWinkler(name, candidate, false)
		if score >= suggestThreshold && score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

// Close ends every MCP session owned by the registry.
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.servers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.servers = nil
	return errors.Join(errs...)
}
