// Package tools defines the [Tool] type shared by the builtin tool packages.
// Each sub-package exports a constructor returning a [Tool] ready for
// registration with the tool registry.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// ErrInvalidArguments marks a failure caused by the shape of the arguments
// rather than by the tool's own execution.
var ErrInvalidArguments = errors.New("invalid arguments")

// Handler executes a tool with decoded named arguments. The returned value is
// passed through verbatim inside the success envelope, so it must be
// JSON-encodable. Implementations must be safe for concurrent use.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a builtin capability: its LLM-facing schema plus the handler that
// runs when the LLM calls it.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Validator is implemented by argument structs that check their own values
// after decoding.
type Validator interface {
	Validate() error
}

// DecodeArgs maps named arguments onto dst, a pointer to a struct with json
// tags. Unknown fields are rejected. If dst implements [Validator] it is
// validated afterwards. Every failure wraps [ErrInvalidArguments].
func DecodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	return nil
}

// Property is one entry in an object schema's "properties" map.
type Property struct {
	Type        string
	Description string
}

// ObjectSchema builds a JSON Schema object with the given properties and
// required property names.
func ObjectSchema(props map[string]Property, required ...string) map[string]any {
	p := make(map[string]any, len(props))
	for name, prop := range props {
		p[name] = map[string]any{
			"type":        prop.Type,
			"description": prop.Description,
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": p,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
