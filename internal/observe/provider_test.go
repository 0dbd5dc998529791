package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider_ExportsSpansOnShutdown(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		TraceExporter:  exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "agent.run")
	if CorrelationID(ctx) == "" {
		t.Error("span from the installed provider has no trace ID")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "agent.run" {
		t.Fatalf("exported spans = %v, want [agent.run]", spans)
	}
	svc, ok := spans[0].Resource.Set().Value("service.name")
	if !ok || svc.AsString() != "campusagent" {
		t.Errorf("service.name = %q, want campusagent", svc.AsString())
	}
}

func TestNewTracerProvider_Sampling(t *testing.T) {
	t.Parallel()

	res, err := newResource(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	tp := newTracerProvider(res, ProviderConfig{SampleRatio: 0.000001})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sampled := 0
	for range 50 {
		_, span := tp.Tracer("test").Start(context.Background(), "run")
		if span.SpanContext().IsSampled() {
			sampled++
		}
		span.End()
	}
	if sampled > 1 {
		t.Errorf("sampled %d of 50 traces at a ratio of 1e-6", sampled)
	}
}
