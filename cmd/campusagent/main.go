// Command campusagent answers campus questions with a tool-calling LLM loop,
// either for queries given on the command line or as an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/campusagent/internal/app"
	"github.com/MrWong99/campusagent/internal/config"
	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/resilience"
	"github.com/MrWong99/campusagent/internal/tools/titlesearch"
	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/campusagent/pkg/provider/embeddings/openai"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
	"github.com/MrWong99/campusagent/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/campusagent/pkg/provider/llm/openai"
)

// queryFlags collects repeated -query flags.
type queryFlags []string

func (q *queryFlags) String() string     { return strings.Join(*q, "; ") }
func (q *queryFlags) Set(v string) error { *q = append(*q, v); return nil }

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var queries queryFlags
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	maxIterations := flag.Int("max-iterations", 0, "override agent.max_iterations for command-line queries")
	serve := flag.Bool("serve", false, "run the HTTP API instead of answering queries")
	crawl := flag.String("crawl", "", "fetch new articles for the named title index and exit")
	flag.Var(&queries, "query", "question to answer; may be repeated (positional arguments work too)")
	flag.Parse()
	queries = append(queries, flag.Args()...)

	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "campusagent: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "campusagent: %v\n", err)
		}
		return 1
	}
	config.ApplyEnv(cfg, os.LookupEnv)
	if *crawl != "" {
		return crawlIndex(cfg, *crawl)
	}
	if cfg.Providers.LLM.Name == "" {
		fmt.Fprintln(os.Stderr, "campusagent: providers.llm.name is required")
		return 1
	}
	if !*serve && len(queries) == 0 {
		fmt.Fprintln(os.Stderr, "campusagent: no query given; pass -query, positional arguments or -serve")
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	out, closeLog, err := logOutput(cfg.Server.LogFile, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "campusagent: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))

	slog.Info("campusagent starting",
		"config", *configPath,
		"serve", *serve,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: app.Version,
		Prometheus:     cfg.Telemetry.Prometheus,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, failover, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, *serve)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithChecker(app.Checker{Name: "llm", Check: failover.Check}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if *serve {
		return serveAPI(ctx, application, cfg, *configPath)
	}
	return answer(ctx, application, queries, *maxIterations)
}

// answer runs each query in turn and prints its answer to stdout.
func answer(ctx context.Context, application *app.App, queries []string, maxIterations int) int {
	code := 0
	for i, q := range queries {
		fmt.Printf("• Query %d: %s\n", i+1, q)
		res, err := application.Ask(ctx, q, maxIterations)
		if err != nil {
			slog.Error("query failed", "query", q, "err", err)
			code = 1
			if ctx.Err() != nil {
				return code
			}
			continue
		}
		fmt.Printf("• Answer:\n%s\n\n", res.Answer)
	}
	return code
}

// serveAPI runs the HTTP API and applies config file changes while it runs.
func serveAPI(ctx context.Context, application *app.App, cfg *config.Config, configPath string) int {
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	watcher, err := config.Watch(ctx, configPath, func(next *config.Config, _ config.ConfigDiff) {
		application.Reload(next)
	}, config.WithEnv(os.LookupEnv))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down", "addr", addr)
	if err := application.Serve(ctx, addr, 15*time.Second); err != nil {
		slog.Error("serve error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// crawlIndex fills the named title index from its configured web source.
func crawlIndex(cfg *config.Config, name string) int {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: app.SlogLevel(cfg.Server.LogLevel)})))

	var ix *config.TitleIndexConfig
	for i := range cfg.Tools.TitleIndexes {
		if cfg.Tools.TitleIndexes[i].Name == name {
			ix = &cfg.Tools.TitleIndexes[i]
		}
	}
	switch {
	case ix == nil:
		fmt.Fprintf(os.Stderr, "campusagent: no title index named %q\n", name)
		return 2
	case ix.Crawl == nil:
		fmt.Fprintf(os.Stderr, "campusagent: title index %q has no crawl section\n", name)
		return 2
	}

	c, err := titlesearch.NewCrawler(titlesearch.CrawlConfig{
		ListURL:    ix.Crawl.ListURL,
		MaxPages:   ix.Crawl.MaxPages,
		Layout:     titlesearch.Layout(ix.Crawl.Layout),
		TitleList:  ix.TitleList,
		ContentDir: ix.ContentDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "campusagent: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rep, err := c.Run(ctx)
	if err != nil {
		slog.Error("crawl failed", "index", name, "err", err)
		return 1
	}
	fmt.Printf("• %s: %d new articles, %d already present, %d failed\n", name, len(rep.Added), rep.Skipped, rep.Failed)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// "openai" uses the native OpenAI client; every other any-llm backend goes
// through the any-llm adapter.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		if n, ok := entry.Options["max_retries"].(int); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaembed.WithTimeout(entry.Timeout))
		}
		if n, ok := entry.Options["dimensions"].(int); ok {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// buildProviders instantiates the providers named in cfg. The LLM is always
// wrapped in a failover chain so that it gets a circuit breaker even without
// fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, *resilience.Failover, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	failover := resilience.NewFailover(cfg.Providers.LLM.Name, primary, resilience.BreakerConfig{})
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err)
		}
		failover.Add(entry.Name, p)
		slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
	}

	ps := &app.Providers{LLM: failover, LLMName: cfg.Providers.LLM.Name}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", p.ModelID())
	}

	return ps, failover, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, serve bool) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║      campusagent  startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	for _, fb := range cfg.Providers.LLMFallbacks {
		printProvider("Fallback", fb.Name, fb.Model)
	}
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Fprintf(os.Stderr, "║  Title indexes   : %-19d ║\n", len(cfg.Tools.TitleIndexes))
	fmt.Fprintf(os.Stderr, "║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if serve {
		fmt.Fprintf(os.Stderr, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// logOutput resolves server.log_file. Empty means stderr. A path ending in a
// separator, or naming an existing directory, receives one file per start
// named "YYYY-MM-DD_HH_MM_campusagent.log".
func logOutput(path string, now time.Time) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	if strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") || isDir(path) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		path = filepath.Join(path, now.Format("2006-01-02_15_04")+"_campusagent.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key].(string)
	if !ok {
		return ""
	}
	return v
}
