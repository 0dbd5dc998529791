package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes an in-memory recording tracer provider global for the
// duration of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestRunID_RoundTrip(t *testing.T) {
	t.Parallel()

	if got := RunID(context.Background()); got != "" {
		t.Errorf("RunID(background) = %q, want empty", got)
	}
	ctx := WithRunID(context.Background(), "run-42")
	if got := RunID(ctx); got != "run-42" {
		t.Errorf("RunID = %q, want run-42", got)
	}
}

func TestCorrelationID(t *testing.T) {
	installTracer(t)

	tests := []struct {
		name  string
		ctx   func() (context.Context, func())
		check func(t *testing.T, got string)
	}{
		{
			name: "nothing",
			ctx:  func() (context.Context, func()) { return context.Background(), func() {} },
			check: func(t *testing.T, got string) {
				if got != "" {
					t.Errorf("got %q, want empty", got)
				}
			},
		},
		{
			name: "run id only",
			ctx: func() (context.Context, func()) {
				return WithRunID(context.Background(), "run-7"), func() {}
			},
			check: func(t *testing.T, got string) {
				if got != "run-7" {
					t.Errorf("got %q, want run-7", got)
				}
			},
		},
		{
			name: "span wins over run id",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithRunID(context.Background(), "run-7"), "agent.run")
				return ctx, func() { span.End() }
			},
			check: func(t *testing.T, got string) {
				if len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
					t.Errorf("got %q, want 32 hex chars", got)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, done := tt.ctx()
			defer done()
			tt.check(t, CorrelationID(ctx))
		})
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "llm.complete")
	_, child := StartSpan(ctx, "tool.invoke")
	child.End()
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "tool.invoke" || spans[1].Name != "llm.complete" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("tool.invoke is not a child of llm.complete")
	}
}

func TestLogger_Attributes(t *testing.T) {
	installTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	plain := buf.String()
	if strings.Contains(plain, "run_id") || strings.Contains(plain, "trace_id") {
		t.Errorf("plain record has correlation attributes: %s", plain)
	}

	buf.Reset()
	ctx, span := StartSpan(WithRunID(context.Background(), "run-9"), "agent.run")
	defer span.End()
	Logger(ctx).Info("tagged")
	tagged := buf.String()
	for _, want := range []string{"run_id=run-9", "trace_id=", "span_id="} {
		if !strings.Contains(tagged, want) {
			t.Errorf("log output missing %q: %s", want, tagged)
		}
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := installTracer(t)

	_, failing := StartSpan(context.Background(), "failing")
	EndSpan(failing, errors.New("boom"))
	_, ok := StartSpan(context.Background(), "ok")
	EndSpan(ok, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "boom" {
		t.Errorf("failing span status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) == 0 {
		t.Error("failing span has no error event")
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("ok span marked as error")
	}
}
