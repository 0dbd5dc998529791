package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/campusagent/internal/agent"
	"github.com/MrWong99/campusagent/internal/toolhost"
	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
	"github.com/MrWong99/campusagent/pkg/provider/llm/mock"
)

// campusRegistry returns a registry with one succeeding and one failing tool.
// searchCalls counts invocations of the succeeding tool.
func campusRegistry(t *testing.T, searchCalls *atomic.Int32) *toolhost.Registry {
	t.Helper()
	b := toolhost.NewBuilder()
	require.NoError(t, b.Register(tools.Tool{
		Definition: llm.ToolDefinition{Name: "google_search", Description: "Web search"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			if searchCalls != nil {
				searchCalls.Add(1)
			}
			return []map[string]string{{"title": "SZTU", "query": fmt.Sprint(args["query"])}}, nil
		},
	}))
	require.NoError(t, b.Register(tools.Tool{
		Definition: llm.ToolDefinition{Name: "search_library_data", Description: "Library OPAC"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("opac unreachable")
		},
	}))
	return b.Build()
}

func newAgent(t *testing.T, p llm.Provider, reg *toolhost.Registry, maxIterations int) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Provider:      p,
		Registry:      reg,
		MaxIterations: maxIterations,
		MaxWorkers:    2,
	})
	require.NoError(t, err)
	return a
}

// alwaysTools returns a handler that requests one search on every call.
func alwaysTools(usage *llm.Usage) func(int, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content: fmt.Sprintf("answer after %d calls", call+1),
			ToolCalls: []llm.ToolCall{
				{ID: fmt.Sprintf("call_%d", call), Name: "google_search", Arguments: `{"query":"sztu"}`},
			},
			Usage: usage,
		}, nil
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := agent.New(agent.Config{})
	assert.ErrorIs(t, err, agent.ErrNoProvider)

	_, err = agent.New(agent.Config{Provider: &mock.Provider{}, MaxIterations: -1})
	assert.ErrorIs(t, err, agent.ErrInvalidIterations)

	_, err = agent.New(agent.Config{Provider: &mock.Provider{}, SystemPrompt: "{{.Missing}}"})
	assert.Error(t, err)

	a, err := agent.New(agent.Config{Provider: &mock.Provider{}})
	require.NoError(t, err)
	_, err = a.RunWithLimit(context.Background(), "q", 0)
	assert.ErrorIs(t, err, agent.ErrInvalidIterations)
}

func TestRun_NoToolCallsNeeded(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content: "The library opens at 8:00.",
		Usage:   &llm.Usage{PromptTokens: 120, CompletionTokens: 12, TotalTokens: 132},
	}}}
	a := newAgent(t, p, campusRegistry(t, nil), 5)

	res, err := a.Run(context.Background(), "When does the library open?")
	require.NoError(t, err)

	assert.Equal(t, "The library opens at 8:00.", res.Answer)
	assert.Len(t, p.Calls(), 1)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Forced)
	assert.Equal(t, agent.Summary{PromptTokens: 120, CompletionTokens: 12, TotalTokens: 132, Calls: 1, ReportedCalls: 1}, res.Usage)
	assert.Positive(t, res.Elapsed)

	req := p.Calls()[0].Req
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "When does the library open?"}, req.Messages[1])
	assert.Equal(t, llm.ToolChoiceAuto, req.ToolChoice)
	assert.Len(t, req.Tools, 2)
}

func TestRun_EmptyAnswerIsFinal(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	res, err := newAgent(t, p, nil, 3).Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, res.Answer)
	assert.Len(t, p.Calls(), 1)
	assert.Zero(t, res.Usage.TotalTokens)
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestRun_ConcurrentToolsWithOneFailure(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{
			ToolCalls: []llm.ToolCall{
				{ID: "call_search", Name: "google_search", Arguments: `{"query":"sztu open day"}`},
				{ID: "call_lib", Name: "search_library_data", Arguments: `{"keyword":"golang"}`},
			},
			Usage: &llm.Usage{PromptTokens: 200, CompletionTokens: 40, TotalTokens: 240},
		},
		{
			Content: "Open day is on Saturday; the library lookup failed.",
			Usage:   &llm.Usage{PromptTokens: 400, CompletionTokens: 60, TotalTokens: 460},
		},
	}}
	a := newAgent(t, p, campusRegistry(t, nil), 5)

	res, err := a.Run(context.Background(), "When is open day, and do we have Go books?")
	require.NoError(t, err)
	assert.Equal(t, "Open day is on Saturday; the library lookup failed.", res.Answer)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 700, res.Usage.TotalTokens)
	assert.Equal(t, 600, res.Usage.PromptTokens)

	calls := p.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Req.Messages
	// system, user, assistant, tool, tool
	require.Len(t, second, 5)
	toolMsgs := map[string]string{}
	for _, m := range second[3:] {
		require.Equal(t, llm.RoleTool, m.Role)
		toolMsgs[m.ToolCallID] = m.Content
	}
	assert.JSONEq(t, `{"success":true,"data":[{"title":"SZTU","query":"sztu open day"}]}`, toolMsgs["call_search"])
	assert.JSONEq(t, `{"success":false,"error":"execution error: opac unreachable"}`, toolMsgs["call_lib"])

	// The system message of the second call carries the tool history.
	system := second[0].Content
	assert.Contains(t, system, `"tool": "google_search"`)
	assert.Contains(t, system, `"tool": "search_library_data"`)
	assert.NotContains(t, system, "No tool calls yet.")
}

func TestRun_ForcedFinalAfterOneIteration(t *testing.T) {
	t.Parallel()

	var searches atomic.Int32
	p := &mock.Provider{Handler: alwaysTools(nil)}
	a := newAgent(t, p, campusRegistry(t, &searches), 1)

	res, err := a.Run(context.Background(), "Tell me everything about SZTU")
	require.NoError(t, err)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.True(t, res.Forced)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "answer after 2 calls", res.Answer)
	assert.Equal(t, int32(1), searches.Load(), "tool calls of the final completion are discarded")

	final := calls[1].Req
	assert.Equal(t, llm.ToolChoiceNone, final.ToolChoice)
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: agent.DefaultFinalInstruction}, last)

	lastMsg := res.Messages[len(res.Messages)-1]
	assert.Equal(t, llm.RoleAssistant, lastMsg.Role)
	assert.Empty(t, lastMsg.ToolCalls)
}

func TestRun_TerminatesWithinCeilingPlusOne(t *testing.T) {
	t.Parallel()

	for maxIter := 1; maxIter <= 5; maxIter++ {
		p := &mock.Provider{Handler: alwaysTools(&llm.Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11})}
		res, err := newAgent(t, p, campusRegistry(t, nil), 10).RunWithLimit(context.Background(), "loop", maxIter)
		require.NoError(t, err)

		assert.Len(t, p.Calls(), maxIter+1, "maxIterations=%d", maxIter)
		assert.Equal(t, maxIter+1, res.Usage.Calls)
		assert.Equal(t, 11*(maxIter+1), res.Usage.TotalTokens)
		assert.True(t, res.Forced)
	}
}

func TestRun_StopsAtFirstAnswer(t *testing.T) {
	t.Parallel()

	for stopAt := 1; stopAt <= 4; stopAt++ {
		p := &mock.Provider{Handler: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call+1 == stopAt {
				return &llm.CompletionResponse{Content: "final"}, nil
			}
			return alwaysTools(nil)(call, req)
		}}
		res, err := newAgent(t, p, campusRegistry(t, nil), 10).Run(context.Background(), "q")
		require.NoError(t, err)
		assert.Len(t, p.Calls(), stopAt)
		assert.Equal(t, stopAt, res.Iterations)
		assert.False(t, res.Forced)
		assert.Equal(t, "final", res.Answer)
	}
}

func TestRun_UsageSumsAcrossRounds(t *testing.T) {
	t.Parallel()

	usages := []*llm.Usage{
		{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110},
		nil, // provider omitted usage
		{PromptTokens: 300, CompletionTokens: 30, TotalTokens: 330},
	}
	for rounds := 0; rounds <= 2; rounds++ {
		p := &mock.Provider{Handler: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call == rounds {
				return &llm.CompletionResponse{Content: "done", Usage: usages[call]}, nil
			}
			return alwaysTools(usages[call])(call, req)
		}}
		res, err := newAgent(t, p, campusRegistry(t, nil), 5).Run(context.Background(), "q")
		require.NoError(t, err)

		var want agent.Summary
		for _, u := range usages[:rounds+1] {
			want.Calls++
			if u != nil {
				want.ReportedCalls++
				want.PromptTokens += u.PromptTokens
				want.CompletionTokens += u.CompletionTokens
				want.TotalTokens += u.TotalTokens
			}
		}
		assert.Equal(t, want, res.Usage, "rounds=%d", rounds)
		assert.Len(t, p.Calls(), rounds+1)
	}
}

func TestRun_UnparsableArgumentsNeverReachTool(t *testing.T) {
	t.Parallel()

	var searches atomic.Int32
	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "google_search", Arguments: `{"query": "unterminated`}}},
		{Content: "sorry"},
	}}
	res, err := newAgent(t, p, campusRegistry(t, &searches), 3).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Zero(t, searches.Load())

	toolMsg := p.Calls()[1].Req.Messages[3]
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &env))
	assert.Equal(t, false, env["success"])
	assert.True(t, strings.HasPrefix(env["error"].(string), "cannot parse arguments"))
	assert.Equal(t, `{"query": "unterminated`, env["raw_arguments"])
	assert.Equal(t, "sorry", res.Answer)
}

func TestRun_UnknownToolIsReported(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search_jiaowu_score", Arguments: `{}`}}},
		{Content: "I cannot access grades."},
	}}
	_, err := newAgent(t, p, campusRegistry(t, nil), 3).Run(context.Background(), "my grades?")
	require.NoError(t, err)

	toolMsg := p.Calls()[1].Req.Messages[3]
	assert.Contains(t, toolMsg.Content, "unknown tool: search_jiaowu_score")
}

func TestRun_LLMErrorAbortsRun(t *testing.T) {
	t.Parallel()

	transport := errors.New("connection refused")
	p := &mock.Provider{Handler: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if call == 1 {
			return nil, transport
		}
		return alwaysTools(nil)(call, req)
	}}
	res, err := newAgent(t, p, campusRegistry(t, nil), 5).Run(context.Background(), "q")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, transport)
	assert.Contains(t, err.Error(), "iteration 2")
	assert.Len(t, p.Calls(), 2, "no retry")
}

func TestRun_ReplayReproducesConversation(t *testing.T) {
	t.Parallel()

	for _, maxIter := range []int{1, 3} {
		p := &mock.Provider{Handler: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call == 2 {
				return &llm.CompletionResponse{Content: "final"}, nil
			}
			return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{
				{ID: fmt.Sprintf("s%d", call), Name: "google_search", Arguments: `{"query":"x"}`},
				{ID: fmt.Sprintf("l%d", call), Name: "search_library_data"},
			}}, nil
		}}
		res, err := newAgent(t, p, campusRegistry(t, nil), 5).RunWithLimit(context.Background(), "replay me", maxIter)
		require.NoError(t, err)

		conv, err := agent.Rebuild("replay me", res.Turns)
		require.NoError(t, err)
		assert.Equal(t, res.Messages, conv.Messages(), "maxIterations=%d", maxIter)

		// Every tool message answers a call of the assistant message before it.
		var issued map[string]bool
		for _, m := range conv.Messages() {
			switch m.Role {
			case llm.RoleAssistant:
				issued = map[string]bool{}
				for _, c := range m.ToolCalls {
					issued[c.ID] = true
				}
			case llm.RoleTool:
				assert.True(t, issued[m.ToolCallID], "tool message %s has no matching call", m.ToolCallID)
				delete(issued, m.ToolCallID)
			}
		}
	}
}

func TestRebuild_RejectsBrokenLinkage(t *testing.T) {
	t.Parallel()

	_, err := agent.Rebuild("q", []agent.Turn{{
		Assistant: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}}},
		Results:   []agent.TurnResult{{CallID: "b", Content: "{}"}},
	}})
	assert.Error(t, err)

	_, err = agent.Rebuild("q", []agent.Turn{{
		Assistant: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}}},
	}})
	assert.Error(t, err, "unanswered call")
}
