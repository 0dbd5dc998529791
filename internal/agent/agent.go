// Package agent drives the tool-calling loop for one user query at a time.
//
// Each iteration renders a fresh system message from the recent tool history,
// asks the LLM for a completion and either finishes with its text or
// dispatches the requested tool calls and loops. When the iteration ceiling
// is reached while the model still wants tools, one more completion is
// requested with tools disabled, so a run issues at most MaxIterations+1 LLM
// calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/toolhost"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultMaxIterations = 10
	DefaultMaxWorkers    = 4
)

var (
	// ErrNoProvider is returned by [New] when Config.Provider is nil.
	ErrNoProvider = errors.New("agent: provider must not be nil")

	// ErrInvalidIterations is returned for an iteration ceiling below 1.
	ErrInvalidIterations = errors.New("agent: max iterations must be at least 1")
)

// Config holds the dependencies and limits of an [Agent].
type Config struct {
	// Provider answers completions. Required.
	Provider llm.Provider

	// ProviderName labels LLM metrics. Default: "llm".
	ProviderName string

	// Registry holds the tools offered to the model. Nil means no tools.
	Registry *toolhost.Registry

	// MaxIterations is the default iteration ceiling of [Agent.Run].
	// Zero selects [DefaultMaxIterations]; negative values are invalid.
	MaxIterations int

	// MaxWorkers bounds how many tool calls of one batch run at once.
	// Values below 1 select [DefaultMaxWorkers].
	MaxWorkers int

	// HistoryWindow is how many recent tool calls the system prompt shows.
	// Values below 1 select [DefaultHistoryWindow].
	HistoryWindow int

	// SystemPrompt is a text/template executed with [PromptData].
	// Empty selects [DefaultSystemPrompt].
	SystemPrompt string

	// FinalInstruction is the user message sent when the ceiling is reached.
	// Empty selects [DefaultFinalInstruction].
	FinalInstruction string

	// Temperature and MaxTokens are forwarded with every completion. Zero
	// leaves the provider default.
	Temperature float64
	MaxTokens   int

	// Metrics receives run, provider and tool metrics. Nil uses the global
	// meter provider.
	Metrics *observe.Metrics

	// Stats, when set, collects per-tool latency windows.
	Stats *toolhost.Stats
}

// Agent runs queries. A single Agent may serve concurrent runs; each run owns
// its conversation and usage counters.
type Agent struct {
	provider         llm.Provider
	providerName     string
	registry         *toolhost.Registry
	dispatcher       *toolhost.Dispatcher
	prompt           *Prompt
	maxIterations    int
	finalInstruction string
	temperature      float64
	maxTokens        int
	metrics          *observe.Metrics
}

// New validates cfg and returns an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidIterations, cfg.MaxIterations)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "llm"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.FinalInstruction == "" {
		cfg.FinalInstruction = DefaultFinalInstruction
	}
	if cfg.Registry == nil {
		cfg.Registry = &toolhost.Registry{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	prompt, err := NewPrompt(cfg.SystemPrompt, cfg.HistoryWindow, cfg.Registry.Names())
	if err != nil {
		return nil, err
	}

	invOpts := []toolhost.Option{toolhost.WithMetrics(cfg.Metrics)}
	if cfg.Stats != nil {
		invOpts = append(invOpts, toolhost.WithStats(cfg.Stats))
	}
	inv := toolhost.NewInvoker(cfg.Registry, invOpts...)

	return &Agent{
		provider:         cfg.Provider,
		providerName:     cfg.ProviderName,
		registry:         cfg.Registry,
		dispatcher:       toolhost.NewDispatcher(inv, cfg.MaxWorkers),
		prompt:           prompt,
		maxIterations:    cfg.MaxIterations,
		finalInstruction: cfg.FinalInstruction,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		metrics:          cfg.Metrics,
	}, nil
}

// RunResult is the outcome of one run. It is not modified after Run returns.
type RunResult struct {
	RunID  uuid.UUID
	Answer string
	Usage  Summary

	Elapsed time.Duration

	// Iterations is the number of loop iterations used, not counting the
	// forced final completion.
	Iterations int

	// Forced reports that the answer came from the forced final completion.
	Forced bool

	// Turns records every completion and its tool results, enough to
	// [Rebuild] the conversation.
	Turns []Turn

	// Messages is the final conversation without the system message.
	Messages []llm.Message
}

// Run answers query with the configured iteration ceiling.
func (a *Agent) Run(ctx context.Context, query string) (*RunResult, error) {
	return a.RunWithLimit(ctx, query, a.maxIterations)
}

// RunWithLimit answers query with at most maxIterations tool-calling
// iterations. Tool failures are reported to the model and never end the run;
// an LLM error does, and is returned wrapped with the iteration number.
func (a *Agent) RunWithLimit(ctx context.Context, query string, maxIterations int) (*RunResult, error) {
	if maxIterations < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidIterations, maxIterations)
	}

	r := &run{
		agent:   a,
		conv:    NewConversation(),
		started: time.Now(),
		result:  &RunResult{RunID: uuid.New()},
	}

	ctx = observe.WithRunID(ctx, r.result.RunID.String())
	ctx, span := observe.StartSpan(ctx, "agent.run", trace.WithAttributes(
		attribute.String("run.id", r.result.RunID.String()),
		attribute.Int("run.max_iterations", maxIterations),
	))
	a.metrics.ActiveRuns.Add(ctx, 1)
	defer a.metrics.ActiveRuns.Add(ctx, -1)

	res, err := r.execute(ctx, query, maxIterations)
	observe.EndSpan(span, err)
	return res, err
}

// run is the state of one query.
type run struct {
	agent   *Agent
	conv    *Conversation
	history []HistoryEntry
	usage   Accountant
	started time.Time
	result  *RunResult
}

func (r *run) execute(ctx context.Context, query string, maxIterations int) (*RunResult, error) {
	a := r.agent
	log := observe.Logger(ctx)
	log.Info("run started", "query", query, "max_iterations", maxIterations)

	r.conv.AppendUser(query)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := r.complete(ctx, iteration, llm.ToolChoiceAuto)
		if err != nil {
			return nil, r.fail(ctx, iteration, err)
		}
		if err := r.conv.AppendAssistant(resp.Content, resp.ToolCalls); err != nil {
			return nil, r.fail(ctx, iteration, err)
		}
		turn := Turn{Assistant: llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}}

		if len(resp.ToolCalls) == 0 {
			r.result.Turns = append(r.result.Turns, turn)
			return r.finish(ctx, resp.Content, iteration, false), nil
		}

		log.Info("dispatching tool calls", "iteration", iteration, "count", len(resp.ToolCalls))
		for _, o := range a.dispatcher.Dispatch(ctx, resp.ToolCalls) {
			content := o.Result.Encode()
			if err := r.conv.AppendTool(o.Call.ID, content); err != nil {
				return nil, r.fail(ctx, iteration, err)
			}
			turn.Results = append(turn.Results, TurnResult{CallID: o.Call.ID, Content: content})
			r.history = append(r.history, newHistoryEntry(o))
		}
		r.result.Turns = append(r.result.Turns, turn)
	}

	log.Info("iteration ceiling reached, requesting final answer", "max_iterations", maxIterations)
	r.conv.AppendUser(a.finalInstruction)
	resp, err := r.complete(ctx, maxIterations+1, llm.ToolChoiceNone)
	if err != nil {
		return nil, r.fail(ctx, maxIterations+1, err)
	}
	if n := len(resp.ToolCalls); n > 0 {
		log.Warn("discarding tool calls of final completion", "count", n)
	}
	if err := r.conv.AppendAssistant(resp.Content, nil); err != nil {
		return nil, r.fail(ctx, maxIterations+1, err)
	}
	r.result.Turns = append(r.result.Turns, Turn{
		Instruction: a.finalInstruction,
		Assistant:   llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
	})
	return r.finish(ctx, resp.Content, maxIterations, true), nil
}

// complete issues one LLM call with a freshly rendered system message and
// accounts for its usage.
func (r *run) complete(ctx context.Context, iteration int, choice llm.ToolChoice) (*llm.CompletionResponse, error) {
	a := r.agent
	if n := r.conv.Pending(); n > 0 {
		return nil, fmt.Errorf("%d tool calls unanswered", n)
	}
	system, err := a.prompt.Render(r.history)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, r.conv.Len()+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, r.conv.Messages()...)
	req := llm.CompletionRequest{
		Messages:    msgs,
		Tools:       a.registry.Definitions(),
		ToolChoice:  choice,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}

	ctx, span := observe.StartSpan(ctx, "llm.complete", trace.WithAttributes(
		attribute.Int("iteration", iteration),
		attribute.String("llm.provider", a.providerName),
		attribute.String("llm.tool_choice", string(choice)),
	))
	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	elapsed := time.Since(start)
	observe.EndSpan(span, err)

	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
	}
	a.metrics.RecordProviderRequest(ctx, a.providerName, status, elapsed.Seconds())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}

	r.usage.Record(resp.Usage)
	log := observe.Logger(ctx).With(
		"iteration", iteration,
		"api_call", r.usage.Summary().Calls,
		"duration_ms", elapsed.Milliseconds(),
	)
	if u := resp.Usage; u != nil {
		a.metrics.RecordTokens(ctx, u.PromptTokens, u.CompletionTokens)
		log = log.With(
			"prompt_tokens", u.PromptTokens,
			"completion_tokens", u.CompletionTokens,
			"total_tokens", u.TotalTokens,
		)
	}
	log.Info("llm call completed", "tool_calls", len(resp.ToolCalls))
	return resp, nil
}

func (r *run) fail(ctx context.Context, iteration int, err error) error {
	r.agent.metrics.RecordRun(ctx, observe.OutcomeFailed, iteration)
	observe.Logger(ctx).Error("run failed",
		"iteration", iteration,
		"elapsed", time.Since(r.started),
		"err", err,
	)
	return fmt.Errorf("agent: iteration %d: %w", iteration, err)
}

func (r *run) finish(ctx context.Context, answer string, iterations int, forced bool) *RunResult {
	res := r.result
	res.Answer = answer
	res.Usage = r.usage.Summary()
	res.Elapsed = time.Since(r.started)
	res.Iterations = iterations
	res.Forced = forced
	res.Messages = r.conv.Messages()

	outcome := observe.OutcomeAnswered
	if forced {
		outcome = observe.OutcomeForced
	}
	r.agent.metrics.RecordRun(ctx, outcome, iterations)

	attrs := []any{
		"elapsed", res.Elapsed.Round(10 * time.Millisecond),
		"iterations", res.Iterations,
		"forced", forced,
		"api_calls", res.Usage.Calls,
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
		"total_tokens", res.Usage.TotalTokens,
	}
	if avg, ok := res.Usage.AverageTokensPerCall(); ok {
		attrs = append(attrs, "avg_tokens_per_call", fmt.Sprintf("%.1f", avg))
	}
	observe.Logger(ctx).Info("run finished", attrs...)
	return res
}
