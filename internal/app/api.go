package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/campusagent/internal/agent"
	"github.com/MrWong99/campusagent/internal/health"
	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/toolhost"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// maxAskBody caps the POST /v1/ask request body.
const maxAskBody = 64 << 10

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Query string `json:"query"`

	// MaxIterations overrides the configured ceiling when positive.
	MaxIterations int `json:"max_iterations,omitempty"`

	// Transcript includes the final conversation in the response.
	Transcript bool `json:"transcript,omitempty"`
}

// AskResponse is the body of a successful POST /v1/ask.
type AskResponse struct {
	RunID      string        `json:"run_id"`
	Answer     string        `json:"answer"`
	Iterations int           `json:"iterations"`
	Forced     bool          `json:"forced"`
	ElapsedMS  int64         `json:"elapsed_ms"`
	Usage      UsageResponse `json:"usage"`
	Messages   []llm.Message `json:"messages,omitempty"`
}

// UsageResponse mirrors [agent.Summary].
type UsageResponse struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Calls            int      `json:"calls"`
	AvgTokensPerCall *float64 `json:"avg_tokens_per_call,omitempty"`
}

// ToolsResponse is the body of GET /v1/tools.
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolInfo describes one registered tool and its recent behaviour.
type ToolInfo struct {
	Name      string  `json:"name"`
	Source    string  `json:"source"`
	Calls     int     `json:"calls"`
	ErrorRate float64 `json:"error_rate"`
	P50MS     int64   `json:"p50_ms"`
	P99MS     int64   `json:"p99_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API: POST /v1/ask, GET /v1/tools, the health
// probes and, when enabled, GET /metrics. Every route is wrapped with
// [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", a.handleAsk)
	mux.HandleFunc("GET /v1/tools", a.handleTools)

	checkers := []health.Checker{{
		Name: "tools",
		Check: func(context.Context) error {
			if a.registry.Len() == 0 {
				return errors.New("no tools registered")
			}
			return nil
		},
	}}
	for _, c := range a.checkers {
		checkers = append(checkers, health.Checker{Name: c.Name, Check: c.Check})
	}
	health.New(checkers, health.WithVersion(Version)).Register(mux)

	a.mu.Lock()
	prom := a.cfg.Telemetry.Prometheus
	a.mu.Unlock()
	if prom {
		mux.Handle("GET /metrics", observe.MetricsHandler())
	}

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAskBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query must not be empty"})
		return
	}
	if req.MaxIterations < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_iterations must not be negative"})
		return
	}

	res, err := a.Ask(r.Context(), req.Query, req.MaxIterations)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrInvalidIterations) {
			status = http.StatusBadRequest
		}
		observe.Logger(r.Context()).Error("ask failed", "err", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := AskResponse{
		RunID:      res.RunID.String(),
		Answer:     res.Answer,
		Iterations: res.Iterations,
		Forced:     res.Forced,
		ElapsedMS:  res.Elapsed.Milliseconds(),
		Usage: UsageResponse{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
			Calls:            res.Usage.Calls,
		},
	}
	if avg, ok := res.Usage.AverageTokensPerCall(); ok {
		resp.Usage.AvgTokensPerCall = &avg
	}
	if req.Transcript {
		resp.Messages = res.Messages
	}
	w.Header().Set("X-Run-ID", resp.RunID)
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleTools(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]toolhost.ToolStats)
	for _, st := range a.stats.Snapshot() {
		stats[st.Tool] = st
	}

	resp := ToolsResponse{Tools: make([]ToolInfo, 0, a.registry.Len())}
	for _, name := range a.registry.Names() {
		st := stats[name]
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:      name,
			Source:    a.registry.Source(name),
			Calls:     st.Calls,
			ErrorRate: st.ErrorRate,
			P50MS:     st.P50.Milliseconds(),
			P99MS:     st.P99.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the HTTP API on addr until ctx is cancelled, then drains open
// requests for up to shutdownGrace.
func (a *App) Serve(ctx context.Context, addr string, shutdownGrace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		observe.Logger(ctx).Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}
