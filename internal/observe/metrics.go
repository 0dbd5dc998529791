// Package observe provides the observability primitives of campusagent:
// OpenTelemetry metrics and tracing, a trace-aware structured logger, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. Tests should use [NewMetrics] with a
// dedicated [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/campusagent"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Run outcome attribute values.
const (
	OutcomeAnswered = "answered"
	OutcomeForced   = "forced"
	OutcomeFailed   = "failed"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// LLMDuration tracks completion latency per provider.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool latency per tool.
	ToolExecutionDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls by provider and status.
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations by tool and status.
	ToolCalls metric.Int64Counter

	// Tokens counts tokens by kind ("prompt" or "completion").
	Tokens metric.Int64Counter

	// Runs counts finished runs by outcome.
	Runs metric.Int64Counter

	// RunIterations records how many iterations each run took.
	RunIterations metric.Int64Histogram

	// ActiveRuns tracks runs currently in progress.
	ActiveRuns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds, sized for
// LLM and web-tool round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("campusagent.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("campusagent.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("campusagent.provider.requests",
		metric.WithDescription("Total LLM provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("campusagent.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("campusagent.llm.tokens",
		metric.WithDescription("Total tokens reported by the LLM provider, by kind."),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("campusagent.runs",
		metric.WithDescription("Finished runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RunIterations, err = m.Int64Histogram("campusagent.run.iterations",
		metric.WithDescription("Iterations per run."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 10, 15, 20),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("campusagent.active_runs",
		metric.WithDescription("Runs currently in progress."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("campusagent.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one LLM call and its latency in seconds.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, seconds float64) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("status", status)))
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(Attr("provider", provider)))
}

// RecordToolCall records one tool invocation and its latency in seconds.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(Attr("tool", tool)))
}

// RecordTokens adds reported token counts.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	m.Tokens.Add(ctx, int64(prompt), metric.WithAttributes(Attr("kind", "prompt")))
	m.Tokens.Add(ctx, int64(completion), metric.WithAttributes(Attr("kind", "completion")))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, iterations int) {
	m.Runs.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	m.RunIterations.Record(ctx, int64(iterations))
}
