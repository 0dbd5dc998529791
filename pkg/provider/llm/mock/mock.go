// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the agent loop sends and to
// feed a scripted sequence of responses without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{
//	        {ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "google_search", Arguments: `{"query":"sztu"}`}}},
//	        {Content: "Here is what I found."},
//	    },
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is a deep copy of the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted sequence returned by successive Complete calls.
	// Once exhausted, the last element is returned again. When empty, Complete
	// returns an empty response.
	Responses []*llm.CompletionResponse

	// Handler, if non-nil, takes precedence over Responses. It receives the
	// zero-based call index.
	Handler func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: cloneRequest(req)})

	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.Handler != nil {
		return p.Handler(idx, req)
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return p.Responses[idx], nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls. Thread-safe.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	out := req
	out.Messages = make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		out.Messages[i] = m
	}
	out.Tools = slices.Clone(req.Tools)
	return out
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
