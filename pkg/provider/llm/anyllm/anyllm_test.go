package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   llm.Message
		role string
	}{
		{"system", llm.Message{Role: llm.RoleSystem, Content: "You are helpful."}, "system"},
		{"user", llm.Message{Role: llm.RoleUser, Content: "Hello!"}, "user"},
		{"assistant", llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"}, "assistant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(tt.in)
			if got.Role != tt.role {
				t.Errorf("role = %q, want %q", got.Role, tt.role)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.in.Content)
			}
		})
	}
}

// TestConvertMessage_AssistantWithToolCalls checks tool call conversion.
func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	t.Parallel()

	m := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "search_library_data", Arguments: `{"keyword":"robotics"}`},
		},
	}
	got := convertMessage(m)
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" {
		t.Errorf("expected ID call_1, got %q", tc.ID)
	}
	if tc.Type != "function" {
		t.Errorf("expected type function, got %q", tc.Type)
	}
	if tc.Function.Name != "search_library_data" {
		t.Errorf("expected function name search_library_data, got %q", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"keyword":"robotics"}` {
		t.Errorf("unexpected arguments: %q", tc.Function.Arguments)
	}
}

// TestConvertMessage_Tool checks tool-result message conversion.
func TestConvertMessage_Tool(t *testing.T) {
	t.Parallel()

	got := convertMessage(llm.Message{Role: llm.RoleTool, Content: `{"success":true}`, ToolCallID: "call_1"})
	if got.Role != "tool" {
		t.Errorf("expected role tool, got %q", got.Role)
	}
	if got.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %q", got.ToolCallID)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-sonnet-latest"}
	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "q"}},
		Tools:       []llm.ToolDefinition{{Name: "google_search", Description: "web", Parameters: map[string]any{"type": "object"}}},
		Temperature: 0.3,
		MaxTokens:   512,
	})

	if params.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens = %v, want 512", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "google_search" {
		t.Errorf("unexpected tools: %+v", params.Tools)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})
	if params.Temperature != nil {
		t.Error("expected nil temperature")
	}
	if params.MaxTokens != nil {
		t.Error("expected nil max tokens")
	}
	if len(params.Tools) != 0 {
		t.Error("expected no tools")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		window    int
		maxOut    int
		toolCalls bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"GPT-4o", 128_000, 16_384, true},
		{"gpt-4-turbo", 128_000, 4_096, true},
		{"gpt-4", 8_192, 4_096, true},
		{"gpt-3.5-turbo", 16_385, 4_096, true},
		{"o1-mini", 128_000, 65_536, false},
		{"o1-preview", 200_000, 100_000, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true},
		{"models/gemini-1.5-pro", 2_097_152, 8_192, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true},
		{"gemini-pro", 128_000, 8_192, true},
		{"deepseek-chat", 64_000, 8_192, true},
		{"my-local-model", 128_000, 4_096, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOut)
			}
			if caps.SupportsToolCalling != tt.toolCalls {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.toolCalls)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty backend name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_OpenAIWithAPIKey(t *testing.T) {
	t.Parallel()

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Capabilities().ContextWindow != 128_000 {
		t.Errorf("unexpected capabilities: %+v", p.Capabilities())
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestConstructorsCoverBackends(t *testing.T) {
	t.Parallel()

	if len(constructors) != len(Backends) {
		t.Fatalf("%d constructors for %d backends", len(constructors), len(Backends))
	}
	for _, b := range Backends {
		if _, ok := constructors[b]; !ok {
			t.Errorf("backend %q has no constructor", b)
		}
	}
}

func TestNew_CaseInsensitiveName(t *testing.T) {
	t.Parallel()

	p, err := New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.name != "openai" {
		t.Errorf("name = %q, want openai", p.name)
	}
}
