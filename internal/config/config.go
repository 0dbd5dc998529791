// Package config provides the configuration schema, loader and provider
// registry of the campus assistant.
package config

import (
	"time"

	"github.com/MrWong99/campusagent/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds logging and HTTP settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g. ":8080"). Only used
	// in serve mode.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// LogFile redirects logs away from stderr. A path ending in a separator
	// or naming an existing directory receives one timestamped file per
	// process start.
	LogFile string `yaml:"log_file"`
}

// ProvidersConfig selects the LLM and embeddings implementations.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails or its circuit is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Embeddings backs the semantic title indexes. Required when any
	// tools.title_indexes entry is configured.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the configuration block shared by all provider types. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai",
	// "deepseek").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Timeout bounds a single request. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AgentConfig tunes the tool-calling loop. Zero values select the agent
// package defaults.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	MaxWorkers    int     `yaml:"max_workers"`
	HistoryWindow int     `yaml:"history_window"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`

	// SystemPrompt is a text/template receiving .ToolResults, .Tools and
	// .Date. Mutually exclusive with SystemPromptFile.
	SystemPrompt     string `yaml:"system_prompt"`
	SystemPromptFile string `yaml:"system_prompt_file"`

	// FinalInstruction is sent as a user message when the iteration ceiling
	// is reached.
	FinalInstruction string `yaml:"final_instruction"`
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	// Disable lists builtin tool names that are not registered.
	Disable []string `yaml:"disable"`

	// Timeout bounds each HTTP request a builtin tool makes. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	GoogleSearch GoogleSearchConfig `yaml:"google_search"`
	Library      LibraryConfig      `yaml:"library"`
	TitleIndexes []TitleIndexConfig `yaml:"title_indexes"`
}

// GoogleSearchConfig holds Custom Search credentials. Empty values are filled
// from GOOGLE_API_KEY and GOOGLE_CSE_ID by [ApplyEnv].
type GoogleSearchConfig struct {
	APIKey   string `yaml:"api_key"`
	CSEID    string `yaml:"cse_id"`
	Endpoint string `yaml:"endpoint"`
}

// LibraryConfig points the library tool at an OPAC instance.
type LibraryConfig struct {
	BaseURL string `yaml:"base_url"`
}

// TitleIndexConfig declares one semantic title search tool.
type TitleIndexConfig struct {
	// Name is the tool name offered to the LLM.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TitleList   string `yaml:"title_list"`
	ContentDir  string `yaml:"content_dir"`

	// Crawl tells "campusagent -crawl <name>" where to fetch the collection
	// from. Optional.
	Crawl *CrawlConfig `yaml:"crawl"`
}

// CrawlConfig describes the web source of a title index.
type CrawlConfig struct {
	// ListURL is the article list page. A "{page}" placeholder is replaced
	// by 1..MaxPages until a page lists no articles.
	ListURL  string `yaml:"list_url"`
	MaxPages int    `yaml:"max_pages"`

	// Layout selects the page parser: "news" or "card".
	Layout string `yaml:"layout"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server (used in logs).
	Name string `yaml:"name"`

	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with arguments) launched for stdio.
	Command string `yaml:"command"`

	// URL is the endpoint for streamable-http.
	URL string `yaml:"url"`

	// Env holds extra environment variables for a stdio subprocess.
	Env map[string]string `yaml:"env"`
}

// ServerConfig converts the entry to the connection parameters of package mcp.
func (c MCPServerConfig) ServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      c.Name,
		Transport: c.Transport,
		Command:   c.Command,
		URL:       c.URL,
		Env:       c.Env,
	}
}

// TelemetryConfig controls the OpenTelemetry resource and the Prometheus
// scrape endpoint.
type TelemetryConfig struct {
	// ServiceName defaults to "campusagent".
	ServiceName string `yaml:"service_name"`

	// Prometheus exposes GET /metrics in serve mode.
	Prometheus bool `yaml:"prometheus"`

	// SampleRatio is the fraction of runs that get a sampled trace, in
	// [0, 1]. Zero samples everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}
