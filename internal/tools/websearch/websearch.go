// Package websearch provides the google_search builtin tool, backed by the
// Google Custom Search JSON API.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// ToolName is the name the LLM uses to call the tool.
const ToolName = "google_search"

// DefaultEndpoint is the Custom Search JSON API endpoint.
const DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"

const (
	defaultResults = 5
	maxResults     = 10
)

// ErrNotConfigured is returned when the API key or search engine id is missing.
var ErrNotConfigured = errors.New("websearch: GOOGLE_API_KEY and GOOGLE_CSE_ID must be set")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Config configures the search client.
type Config struct {
	APIKey string
	CSEID  string

	// Endpoint overrides DefaultEndpoint.
	Endpoint string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Searcher calls the Custom Search API.
type Searcher struct {
	cfg Config
}

// New returns a Searcher. Missing credentials are reported per call, so the
// tool stays registered and the LLM sees the failure.
func New(cfg Config) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Searcher{cfg: cfg}
}

type args struct {
	Query      string `json:"query"`
	NumResults *int   `json:"num_results,omitempty"`
}

func (a *args) Validate() error {
	if a.Query == "" {
		return fmt.Errorf("query must not be empty")
	}
	return nil
}

// clampResults applies the default and the API's upper bound.
func clampResults(n *int) int {
	if n == nil {
		return defaultResults
	}
	return min(max(*n, 1), maxResults)
}

// Search runs one query and returns at most num hits.
func (s *Searcher) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if s.cfg.APIKey == "" || s.cfg.CSEID == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("key", s.cfg.APIKey)
	q.Set("cx", s.cfg.CSEID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request: %w", redactKey(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("websearch: unexpected status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Items []Result `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	if payload.Items == nil {
		return []Result{}, nil
	}
	return payload.Items, nil
}

// redactKey masks the API key in the URL a transport error prints. Tool
// errors are shown to the LLM and logged.
func redactKey(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		ue.URL = "<redacted>"
		return err
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	ue.URL = u.String()
	return err
}

// Tool returns the google_search tool bound to s.
func (s *Searcher) Tool() tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        ToolName,
			Description: "Search the public web with Google Custom Search. Use it for news, background knowledge and public information about the university that is not covered by the other tools.",
			Parameters: tools.ObjectSchema(map[string]tools.Property{
				"query":       {Type: "string", Description: "Keywords or question to search for."},
				"num_results": {Type: "integer", Description: "Number of results to return (1-10, default 5)."},
			}, "query"),
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			return s.Search(ctx, a.Query, clampResults(a.NumResults))
		},
	}
}
