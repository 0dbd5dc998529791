// Package anyllm adapts github.com/mozilla-ai/any-llm-go to llm.Provider so
// the agent can run against Anthropic, Gemini, Ollama, DeepSeek, Mistral,
// Groq and local llama.cpp/llamafile servers through one code path.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Backends lists the provider names accepted by New, in documentation order.
var Backends = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap adapts a concrete backend constructor to the common signature.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var constructors = map[string]constructor{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend. Without an explicit
// anyllmlib.WithAPIKey option the backend reads its usual environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	name := strings.ToLower(backendName)
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backendName, strings.Join(Backends, ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// Complete implements llm.Provider.
//
// Tool choice is left to the backend default, which is "auto" for every
// supported backend when tools are present. Tools stay attached on a
// ToolChoiceNone request; the caller discards any tool calls it gets back.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}
	msg := resp.Choices[0].Message

	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

func convertMessage(m llm.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capabilityRule matches a lower-cased model name by prefix or substring.
type capabilityRule struct {
	match string
	// contains matches anywhere in the name instead of only at the start.
	contains bool
	caps     llm.ModelCapabilities
}

// capabilityRules is evaluated top to bottom; the first match wins, so more
// specific names precede their family catch-all.
var capabilityRules = []capabilityRule{
	{match: "gpt-4.1", caps: llm.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsToolCalling: true}},
	{match: "gpt-4o", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true}},
	{match: "gpt-4-turbo", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
	{match: "gpt-4", caps: llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
	{match: "gpt-3.5-turbo", caps: llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
	{match: "o1-mini", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{match: "o1", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true}},
	{match: "o3", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true}},
	{match: "claude-3-opus", contains: true, caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
	{match: "claude", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "gemini-1.5-pro", contains: true, caps: llm.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "gemini-1.5-flash", contains: true, caps: llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "gemini-2", contains: true, caps: llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "gemini", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "deepseek", caps: llm.ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{match: "qwen", caps: llm.ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
}

// modelCapabilities returns the capabilities of a known model family, or
// conservative defaults for anything else.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if (r.contains && strings.Contains(lower, r.match)) || strings.HasPrefix(lower, r.match) {
			return r.caps
		}
	}
	return llm.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
	}
}

var _ llm.Provider = (*Provider)(nil)
