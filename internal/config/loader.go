package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/campusagent/internal/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	a := cfg.Agent
	if a.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations %d must be at least 1 (0 selects the default)", a.MaxIterations))
	}
	if a.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("agent.max_workers %d must not be negative", a.MaxWorkers))
	}
	if a.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("agent.history_window %d must not be negative", a.HistoryWindow))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.SystemPrompt != "" && a.SystemPromptFile != "" {
		errs = append(errs, errors.New("agent.system_prompt and agent.system_prompt_file are mutually exclusive"))
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be within [0, 1]", r))
	}
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout %v must not be negative", cfg.Tools.Timeout))
	}
	seen := make(map[string]int, len(cfg.Tools.TitleIndexes))
	for i, ix := range cfg.Tools.TitleIndexes {
		prefix := fmt.Sprintf("tools.title_indexes[%d]", i)
		if ix.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[ix.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.title_indexes[%d]", prefix, ix.Name, prev))
			}
			seen[ix.Name] = i
		}
		if ix.TitleList == "" {
			errs = append(errs, fmt.Errorf("%s.title_list is required", prefix))
		}
		if c := ix.Crawl; c != nil {
			if c.ListURL == "" {
				errs = append(errs, fmt.Errorf("%s.crawl.list_url is required", prefix))
			}
			if c.MaxPages < 0 {
				errs = append(errs, fmt.Errorf("%s.crawl.max_pages %d must not be negative", prefix, c.MaxPages))
			}
			if c.Layout != "news" && c.Layout != "card" {
				errs = append(errs, fmt.Errorf("%s.crawl.layout %q is invalid; valid values: news, card", prefix, c.Layout))
			}
		}
	}
	if len(cfg.Tools.TitleIndexes) > 0 && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("tools.title_indexes requires providers.embeddings to be configured"))
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// ApplyEnv fills empty secrets from the environment: OPENAI_API_KEY for
// OpenAI providers, GOOGLE_API_KEY and GOOGLE_CSE_ID for the search tool.
// lookup is usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if cfg.Providers.LLM.Name == "openai" {
		fill(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	}
	for i := range cfg.Providers.LLMFallbacks {
		if cfg.Providers.LLMFallbacks[i].Name == "openai" {
			fill(&cfg.Providers.LLMFallbacks[i].APIKey, "OPENAI_API_KEY")
		}
	}
	if cfg.Providers.Embeddings.Name == "openai" {
		fill(&cfg.Providers.Embeddings.APIKey, "OPENAI_API_KEY")
	}
	fill(&cfg.Tools.GoogleSearch.APIKey, "GOOGLE_API_KEY")
	fill(&cfg.Tools.GoogleSearch.CSEID, "GOOGLE_CSE_ID")
}

// LoadSystemPrompt returns the configured prompt template, reading
// system_prompt_file when set. An empty result selects the built-in prompt.
func (a AgentConfig) LoadSystemPrompt() (string, error) {
	if a.SystemPromptFile == "" {
		return a.SystemPrompt, nil
	}
	data, err := os.ReadFile(a.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("config: read system prompt: %w", err)
	}
	return string(data), nil
}
