package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

var (
	// ErrUnknownTool marks a call naming a tool the registry does not hold.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments marks a call whose argument text is not a JSON
	// object. The capability is never called in that case.
	ErrInvalidArguments = errors.New("cannot parse arguments")
)

// unknownToolLabel replaces the tool name in metrics for unresolved calls so
// model-invented names do not create new series.
const unknownToolLabel = "unknown"

// Outcome is the result of one dispatched tool call.
type Outcome struct {
	Call llm.ToolCall

	// Args holds the decoded arguments. It is nil when decoding failed.
	Args map[string]any

	Result Result

	// Err is the cause of a failed Result, nil on success. It wraps
	// [ErrInvalidArguments], [ErrUnknownTool], [tools.ErrInvalidArguments] or
	// the capability's own error.
	Err error

	Duration time.Duration
}

// ByID indexes outcomes by the id of the call that produced them.
func ByID(outcomes []Outcome) map[string]Outcome {
	m := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Call.ID] = o
	}
	return m
}

// Option configures an [Invoker].
type Option func(*Invoker)

// WithMetrics records one tool-call sample per invocation.
func WithMetrics(m *observe.Metrics) Option {
	return func(inv *Invoker) { inv.metrics = m }
}

// WithStats feeds every invocation into the per-tool latency windows.
func WithStats(s *Stats) Option {
	return func(inv *Invoker) { inv.stats = s }
}

// Invoker runs single tool calls against a [Registry]. It holds no mutable
// state of its own and is safe for concurrent use.
type Invoker struct {
	registry *Registry
	metrics  *observe.Metrics
	stats    *Stats
}

// NewInvoker returns an invoker resolving names in r.
func NewInvoker(r *Registry, opts ...Option) *Invoker {
	inv := &Invoker{registry: r}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Invoke decodes the call's arguments, resolves the tool and runs it. Every
// failure, including a panic in the capability, is returned as a failed
// envelope in the outcome; Invoke itself never fails.
func (inv *Invoker) Invoke(ctx context.Context, call llm.ToolCall) Outcome {
	ctx, span := observe.StartSpan(ctx, "tool "+call.Name,
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		),
	)

	start := time.Now()
	out := Outcome{Call: call}
	out.Args, out.Result, out.Err = inv.invoke(ctx, call)
	out.Duration = time.Since(start)
	observe.EndSpan(span, out.Err)

	inv.record(ctx, out)
	return out
}

func (inv *Invoker) invoke(ctx context.Context, call llm.ToolCall) (map[string]any, Result, error) {
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		res := Failed(fmt.Sprintf("cannot parse arguments: %v", err))
		res.RawArguments = call.Arguments
		return nil, res, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	handler, ok := inv.registry.Lookup(call.Name)
	if !ok {
		reason := "unknown tool: " + call.Name
		if s := inv.registry.Suggest(call.Name); s != "" {
			reason += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return args, Failed(reason), fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	data, err := callSafely(ctx, handler, args)
	if err != nil {
		if errors.Is(err, tools.ErrInvalidArguments) {
			return args, Failed("argument error: " + err.Error()), err
		}
		return args, Failed("execution error: " + err.Error()), err
	}
	return args, Succeeded(data), nil
}

// decodeArguments turns the model's argument text into a mapping. Blank text
// means no arguments and a JSON null decodes to an empty mapping.
func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func callSafely(ctx context.Context, h tools.Handler, args map[string]any) (data any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return h(ctx, args)
}

func (inv *Invoker) record(ctx context.Context, out Outcome) {
	name := out.Call.Name
	label := name
	if errors.Is(out.Err, ErrUnknownTool) {
		label = unknownToolLabel
	}
	status := observe.StatusOK
	if out.Err != nil {
		status = observe.StatusError
	}

	if inv.metrics != nil {
		inv.metrics.RecordToolCall(ctx, label, status, out.Duration.Seconds())
	}
	if inv.stats != nil {
		inv.stats.Record(label, out.Duration, out.Err != nil)
	}

	log := observe.Logger(ctx).With(
		"tool", name,
		"call_id", out.Call.ID,
		"duration_ms", out.Duration.Milliseconds(),
	)
	if out.Err != nil {
		log.Warn("tool call failed", "args", out.Call.Arguments, "error", out.Err)
		return
	}
	log.Info("tool call succeeded", "args", out.Args)
}
