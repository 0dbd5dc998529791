package toolhost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// fnTool builds a builtin tool around h.
func fnTool(name string, h tools.Handler) tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        name,
			Description: "test tool " + name,
			Parameters:  tools.ObjectSchema(nil),
		},
		Handler: h,
	}
}

// constTool returns a tool that always succeeds with v.
func constTool(name string, v any) tools.Tool {
	return fnTool(name, func(context.Context, map[string]any) (any, error) { return v, nil })
}

// newRegistry builds a registry from ts, failing the test on a registration error.
func newRegistry(t *testing.T, ts ...tools.Tool) *Registry {
	t.Helper()
	b := NewBuilder()
	for _, tool := range ts {
		require.NoError(t, b.Register(tool))
	}
	return b.Build()
}
