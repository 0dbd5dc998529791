// Package app wires the campus assistant together: providers, the tool
// registry, the agent loop and the HTTP API.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Serve runs the HTTP API until its context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithTools,
// WithMCPServer, WithMetrics). When an option is not provided, New builds the
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/campusagent/internal/agent"
	"github.com/MrWong99/campusagent/internal/config"
	"github.com/MrWong99/campusagent/internal/mcp"
	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/toolhost"
	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/internal/tools/library"
	"github.com/MrWong99/campusagent/internal/tools/titlesearch"
	"github.com/MrWong99/campusagent/internal/tools/websearch"
	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Version is reported to MCP servers during the handshake.
var Version = "dev"

// defaultToolTimeout bounds each HTTP request of a builtin tool.
const defaultToolTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// LLMName labels LLM metrics and logs, e.g. "openai" or "failover".
	LLMName string

	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes of the assistant.
type App struct {
	providers *Providers

	mu  sync.Mutex
	cfg *config.Config

	registry *toolhost.Registry
	stats    *toolhost.Stats
	metrics  *observe.Metrics
	agent    atomic.Pointer[agent.Agent]

	httpClient *http.Client
	level      *slog.LevelVar
	extraTools []tools.Tool
	servers    []*mcp.Server
	checkers   []Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Checker is an extra readiness probe reported by GET /readyz.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTools registers additional builtin tools next to the configured ones.
func WithTools(t ...tools.Tool) Option {
	return func(a *App) { a.extraTools = append(a.extraTools, t...) }
}

// WithMCPServer registers an already connected MCP session. The app takes
// ownership and closes it in Shutdown.
func WithMCPServer(s *mcp.Server) Option {
	return func(a *App) { a.servers = append(a.servers, s) }
}

// WithMetrics injects the metric instruments instead of using the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHTTPClient sets the client used by the builtin HTTP tools.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithLogLevel lets [App.Reload] adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithChecker adds a readiness probe.
func WithChecker(c Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New connects to every configured MCP server and builds every title index
// synchronously; a failure of any of them aborts startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	own := *cfg
	a := &App{
		cfg:       &own,
		providers: providers,
		stats:     toolhost.NewStats(0),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.httpClient == nil {
		timeout := cfg.Tools.Timeout
		if timeout == 0 {
			timeout = defaultToolTimeout
		}
		a.httpClient = &http.Client{Timeout: timeout}
	}

	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	ag, err := a.newAgent(cfg.Agent)
	if err != nil {
		_ = a.registry.Close()
		return nil, fmt.Errorf("app: init agent: %w", err)
	}
	a.agent.Store(ag)

	slog.Info("app initialised",
		"llm", providers.LLMName,
		"tools", a.registry.Len(),
		"max_iterations", cfg.Agent.MaxIterations,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTools registers the builtin tools that are not disabled, the injected
// tools and every MCP server's tools.
func (a *App) initTools(ctx context.Context) error {
	b := toolhost.NewBuilder()
	var errs []error

	register := func(t tools.Tool) {
		if slices.Contains(a.cfg.Tools.Disable, t.Definition.Name) {
			slog.Info("tool disabled by config", "tool", t.Definition.Name)
			return
		}
		if err := b.Register(t); err != nil {
			errs = append(errs, err)
		}
	}

	tc := a.cfg.Tools
	register(websearch.New(websearch.Config{
		APIKey:     tc.GoogleSearch.APIKey,
		CSEID:      tc.GoogleSearch.CSEID,
		Endpoint:   tc.GoogleSearch.Endpoint,
		HTTPClient: a.httpClient,
	}).Tool())
	register(library.New(library.Config{
		BaseURL:    tc.Library.BaseURL,
		HTTPClient: a.httpClient,
	}).Tool())

	for _, ixCfg := range tc.TitleIndexes {
		ix, err := titlesearch.New(titlesearch.Config{
			ToolName:    ixCfg.Name,
			Description: ixCfg.Description,
			TitleList:   ixCfg.TitleList,
			ContentDir:  ixCfg.ContentDir,
		}, a.providers.Embeddings)
		if err != nil {
			errs = append(errs, fmt.Errorf("title index %q: %w", ixCfg.Name, err))
			continue
		}
		register(ix.Tool())
	}

	for _, t := range a.extraTools {
		register(t)
	}

	if len(a.cfg.MCP.Servers) > 0 {
		client := mcp.NewClient(Version)
		for _, srv := range a.cfg.MCP.Servers {
			s, err := mcp.Connect(ctx, client, srv.ServerConfig())
			if err != nil {
				errs = append(errs, fmt.Errorf("connect mcp server %q: %w", srv.Name, err))
				continue
			}
			a.servers = append(a.servers, s)
		}
	}
	for _, s := range a.servers {
		if err := b.RegisterServer(s); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("registered MCP server", "name", s.Name(), "tools", len(s.Tools()))
	}

	a.registry = b.Build()
	if err := errors.Join(errs...); err != nil {
		_ = a.registry.Close()
		return err
	}
	a.closers = append(a.closers, a.registry.Close)
	return nil
}

// newAgent builds the loop from the agent section of the config.
func (a *App) newAgent(ac config.AgentConfig) (*agent.Agent, error) {
	prompt, err := ac.LoadSystemPrompt()
	if err != nil {
		return nil, err
	}
	return agent.New(agent.Config{
		Provider:         a.providers.LLM,
		ProviderName:     a.providers.LLMName,
		Registry:         a.registry,
		MaxIterations:    ac.MaxIterations,
		MaxWorkers:       ac.MaxWorkers,
		HistoryWindow:    ac.HistoryWindow,
		SystemPrompt:     prompt,
		FinalInstruction: ac.FinalInstruction,
		Temperature:      ac.Temperature,
		MaxTokens:        ac.MaxTokens,
		Metrics:          a.metrics,
		Stats:            a.stats,
	})
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Ask answers query with the current agent. A maxIterations of zero uses the
// configured ceiling.
func (a *App) Ask(ctx context.Context, query string, maxIterations int) (*agent.RunResult, error) {
	ag := a.agent.Load()
	if maxIterations == 0 {
		return ag.Run(ctx, query)
	}
	return ag.RunWithLimit(ctx, query, maxIterations)
}

// Tools returns the registered tool names in registration order.
func (a *App) Tools() []string { return a.registry.Names() }

// ToolStats returns the rolling per-tool latency and error statistics.
func (a *App) ToolStats() []toolhost.ToolStats { return a.stats.Snapshot() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of cfg: the log level and the
// agent section. Runs in flight finish with the agent they started with.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) Reload(cfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, cfg)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.AgentChanged {
		ag, err := a.newAgent(cfg.Agent)
		if err != nil {
			slog.Error("agent reload failed, keeping previous settings", "err", err)
			return d
		}
		a.agent.Store(ag)
		a.cfg.Agent = cfg.Agent
		slog.Info("agent settings reloaded", "max_iterations", cfg.Agent.MaxIterations)
	}
	if d.LogLevelChanged {
		a.cfg.Server.LogLevel = cfg.Server.LogLevel
	}

	if !d.HotReloadable() {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	return d
}

// SlogLevel converts a config log level to its slog equivalent. Unknown
// levels map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for _, st := range a.stats.Snapshot() {
			slog.Info("tool stats",
				"tool", st.Tool,
				"calls", st.Calls,
				"error_rate", st.ErrorRate,
				"p50", st.P50,
				"p99", st.P99,
			)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
