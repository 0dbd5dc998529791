// Package openai adapts the OpenAI Chat Completions API to [llm.Provider].
//
// Any server that speaks the same wire format (vLLM, LM Studio, a proxy in
// front of a campus model) can be targeted with [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Provider sends completion requests to a single OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

// Option customises the underlying SDK client.
type Option func(*settings)

type settings struct {
	requestOpts []option.RequestOption
	httpClient  *http.Client
	timeout     time.Duration
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.requestOpts = append(s.requestOpts, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) {
		if org != "" {
			s.requestOpts = append(s.requestOpts, option.WithOrganization(org))
		}
	}
}

// WithMaxRetries overrides the SDK's retry count for transient failures.
// Zero disables retries, which is what you want behind a failover wrapper.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.requestOpts = append(s.requestOpts, option.WithMaxRetries(n))
	}
}

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithHTTPClient replaces the HTTP client. A timeout set through WithTimeout
// is applied to a shallow copy of c.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// New returns a Provider for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.requestOpts...)
	if hc := s.client(); hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(hc))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   modelCapabilities(model),
	}, nil
}

func (s *settings) client() *http.Client {
	if s.timeout <= 0 {
		return s.httpClient
	}
	var c http.Client
	if s.httpClient != nil {
		c = *s.httpClient
	}
	c.Timeout = s.timeout
	return &c
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion (%s): %w", p.model, err)
	}
	return convertResponse(completion)
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// convertResponse maps the first choice of a completion onto the provider-neutral
// response type. A refusal is surfaced as content so the caller still gets an
// answer to show the user.
func convertResponse(c *oai.ChatCompletion) (*llm.CompletionResponse, error) {
	if len(c.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}
	msg := c.Choices[0].Message

	out := &llm.CompletionResponse{Content: msg.Content}
	if out.Content == "" && msg.Refusal != "" {
		out.Content = msg.Refusal
	}
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
	}
	// Local OpenAI-compatible servers frequently leave usage out.
	if c.JSON.Usage.Valid() {
		out.Usage = &llm.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		}
	}
	return out, nil
}

// capabilityRule overrides the defaults for every model whose lowercased name
// starts with one of prefixes. Rules are checked in order; the first match wins.
type capabilityRule struct {
	prefixes []string
	apply    func(*llm.ModelCapabilities)
}

var capabilityRules = []capabilityRule{
	{[]string{"gpt-4.1"}, func(c *llm.ModelCapabilities) { c.ContextWindow, c.MaxOutputTokens = 1_047_576, 32_768 }},
	{[]string{"gpt-4o"}, func(c *llm.ModelCapabilities) { c.MaxOutputTokens = 16_384 }},
	{[]string{"gpt-4-turbo"}, func(*llm.ModelCapabilities) {}},
	{[]string{"gpt-4"}, func(c *llm.ModelCapabilities) { c.ContextWindow = 8_192 }},
	{[]string{"gpt-3.5-turbo"}, func(c *llm.ModelCapabilities) { c.ContextWindow = 16_385 }},
	{[]string{"o1-mini"}, func(c *llm.ModelCapabilities) { c.MaxOutputTokens, c.SupportsToolCalling = 65_536, false }},
	{[]string{"o1", "o3", "o4"}, func(c *llm.ModelCapabilities) { c.ContextWindow, c.MaxOutputTokens = 200_000, 100_000 }},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		for _, prefix := range r.prefixes {
			if strings.HasPrefix(lower, prefix) {
				r.apply(&caps)
				return caps
			}
		}
	}
	return caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("request has no messages")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for i, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	if len(req.Tools) == 0 {
		return params, nil
	}
	params.Tools = make([]oai.ChatCompletionToolParam, len(req.Tools))
	for i, td := range req.Tools {
		params.Tools[i] = oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
	}
	if req.ToolChoice != "" {
		params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: param.NewOpt(string(req.ToolChoice)),
		}
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case llm.RoleAssistant:
		return assistantMessage(m), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}

// assistantMessage replays an earlier assistant turn, tool calls included, so
// the following tool messages have something to answer.
func assistantMessage(m llm.Message) oai.ChatCompletionMessageParamUnion {
	var asst oai.ChatCompletionAssistantMessageParam
	if m.Content != "" {
		asst.Content.OfString = oai.String(m.Content)
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

var _ llm.Provider = (*Provider)(nil)
