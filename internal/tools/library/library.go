// Package library provides the search_library_data builtin tool, which
// queries the university library OPAC for keyword suggestions and
// subject-based loan recommendations.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// ToolName is the name the LLM uses to call the tool.
const ToolName = "search_library_data"

// DefaultBaseURL is the OPAC API root.
const DefaultBaseURL = "https://lib-opac.sztu.edu.cn/meta-local/opac"

const (
	suggestSize   = 7
	recommendSize = 6

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Result holds the raw "data" payload of both endpoints. A field is nil when
// its endpoint failed. A null or missing "data" is passed through as null.
type Result struct {
	SuggestData   json.RawMessage `json:"suggest_data"`
	RecommendData json.RawMessage `json:"recommend_data"`
}

// Config configures the OPAC client.
type Config struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Client queries the OPAC endpoints.
type Client struct {
	cfg Config
}

// New returns a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg}
}

type args struct {
	Keyword string `json:"keyword"`
}

func (a *args) Validate() error {
	if a.Keyword == "" {
		return fmt.Errorf("keyword must not be empty")
	}
	return nil
}

// Search queries both endpoints concurrently. Endpoint failures are logged
// and leave the matching field nil; Search itself only fails when ctx is done.
func (c *Client) Search(ctx context.Context, keyword string) (*Result, error) {
	suggest := c.cfg.BaseURL + "/search/_suggest?" + url.Values{
		"fieldName": {"all"},
		"query":     {keyword},
		"size":      {fmt.Sprint(suggestSize)},
	}.Encode()
	recommend := c.cfg.BaseURL + "/commend/subject_loan?" + url.Values{
		"subject": {keyword},
		"num":     {fmt.Sprint(recommendSize)},
	}.Encode()

	var res Result
	var g errgroup.Group
	g.Go(func() error {
		res.SuggestData = c.fetchData(ctx, "suggest", suggest)
		return nil
	})
	g.Go(func() error {
		res.RecommendData = c.fetchData(ctx, "recommend", recommend)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	return &res, nil
}

// fetchData GETs endpoint and returns its "data" field, or nil on any failure.
func (c *Client) fetchData(ctx context.Context, kind, endpoint string) json.RawMessage {
	data, err := c.get(ctx, endpoint)
	if err != nil {
		observe.Logger(ctx).Warn("library endpoint failed", "endpoint", kind, "err", err)
		return nil
	}
	observe.Logger(ctx).Debug("library endpoint ok", "endpoint", kind, "bytes", len(data))
	return data
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return payload.Data, nil
}

// Tool returns the search_library_data tool bound to c.
func (c *Client) Tool() tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        ToolName,
			Description: "Query the university library catalogue for keyword autocomplete suggestions and subject-based book recommendations.",
			Parameters: tools.ObjectSchema(map[string]tools.Property{
				"keyword": {Type: "string", Description: "Book title or subject keyword, for example 'artificial intelligence'."},
			}, "keyword"),
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			return c.Search(ctx, a.Keyword)
		},
	}
}
