// Package titlesearch provides semantic search over an offline article
// collection. The collection is a title list file plus one "<title>.txt"
// content file per article. Titles and the query are embedded in one batch
// and ranked by dot product against the query vector.
//
// The same implementation backs several tools (campus news, campus card
// guides), one [Index] per collection.
package titlesearch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/MrWong99/campusagent/internal/tools"
	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

const (
	// DefaultTopK is used when the caller does not pass top_k.
	DefaultTopK = 3

	// MissingContent replaces the body of an article whose content file does
	// not exist.
	MissingContent = "Content file is missing or unreadable."

	maxContentBytes = 1 << 20
)

var numbering = regexp.MustCompile(`^\d+\.\s*`)

// Hit is one ranked article.
type Hit struct {
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// Config describes one article collection.
type Config struct {
	// ToolName is the name exposed to the LLM, e.g. "search_jiaodian_news".
	ToolName    string
	Description string

	// TitleList is the path of the title list file, one title per line,
	// optionally numbered "N. ".
	TitleList string

	// ContentDir holds the "<title>.txt" files. Defaults to the directory of
	// TitleList.
	ContentDir string
}

// Index searches one article collection.
type Index struct {
	cfg      Config
	embedder embeddings.Provider
}

// New validates cfg and returns an Index.
func New(cfg Config, embedder embeddings.Provider) (*Index, error) {
	var errs []error
	if cfg.ToolName == "" {
		errs = append(errs, errors.New("tool name must not be empty"))
	}
	if cfg.TitleList == "" {
		errs = append(errs, errors.New("title list path must not be empty"))
	}
	if embedder == nil {
		errs = append(errs, errors.New("embeddings provider must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("titlesearch: %w", err)
	}
	if cfg.ContentDir == "" {
		cfg.ContentDir = filepath.Dir(cfg.TitleList)
	}
	return &Index{cfg: cfg, embedder: embedder}, nil
}

// Search ranks the collection's titles against query and returns the topK
// best hits with their content.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	titles, err := readTitles(ix.cfg.TitleList)
	if err != nil {
		return nil, fmt.Errorf("titlesearch: %s: %w", ix.cfg.ToolName, err)
	}
	if len(titles) == 0 {
		return []Hit{}, nil
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, append(titles[:len(titles):len(titles)], query))
	if err != nil {
		return nil, fmt.Errorf("titlesearch: %s: embed: %w", ix.cfg.ToolName, err)
	}
	if len(vecs) != len(titles)+1 {
		return nil, fmt.Errorf("titlesearch: %s: expected %d vectors, got %d", ix.cfg.ToolName, len(titles)+1, len(vecs))
	}

	queryVec := vecs[len(titles)]
	scores := make([]float64, len(titles))
	order := make([]int, len(titles))
	for i := range titles {
		scores[i] = embeddings.Dot(vecs[i], queryVec)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := min(topK, len(titles))
	hits := make([]Hit, 0, n)
	for _, idx := range order[:n] {
		title := strings.TrimSpace(numbering.ReplaceAllString(titles[idx], ""))
		hits = append(hits, Hit{
			Title:   title,
			Score:   math.Round(scores[idx]*1e4) / 1e4,
			Content: ix.readContent(title),
		})
	}
	return hits, nil
}

// readTitles returns the non-empty, trimmed lines of path, skipping
// "---" header lines.
func readTitles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open title list: %w", err)
	}
	defer f.Close()

	var titles []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "---") {
			continue
		}
		titles = append(titles, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read title list: %w", err)
	}
	return titles, nil
}

// readContent loads "<title>.txt" from the content directory. Problems are
// reported inside the returned text; a missing article never fails a search.
func (ix *Index) readContent(title string) string {
	name := title + ".txt"
	path, err := safePath(ix.cfg.ContentDir, name)
	if err != nil {
		return fmt.Sprintf("Error reading file %s: %v", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return MissingContent
	}
	if info.Size() > maxContentBytes {
		return fmt.Sprintf("Error reading file %s: file too large (%d bytes)", name, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error reading file %s: %v", name, err)
	}
	return string(data)
}

// safePath joins rel onto base and rejects results outside base.
func safePath(base, rel string) (string, error) {
	joined := filepath.Join(base, rel)
	cleanBase := filepath.Clean(base)
	if !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", rel, base)
	}
	return joined, nil
}

type args struct {
	QueryText string `json:"query_text"`
	TopK      *int   `json:"top_k,omitempty"`
}

func (a *args) Validate() error {
	if a.QueryText == "" {
		return errors.New("query_text must not be empty")
	}
	if a.TopK != nil && *a.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", *a.TopK)
	}
	return nil
}

// Tool returns the tool bound to ix.
func (ix *Index) Tool() tools.Tool {
	desc := ix.cfg.Description
	if desc == "" {
		desc = "Semantic search over an offline collection of article titles; returns the most similar articles with their full text."
	}
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        ix.cfg.ToolName,
			Description: desc,
			Parameters: tools.ObjectSchema(map[string]tools.Property{
				"query_text": {Type: "string", Description: "Topic or question to search for."},
				"top_k":      {Type: "integer", Description: "Number of articles to return (default 3)."},
			}, "query_text"),
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			topK := DefaultTopK
			if a.TopK != nil {
				topK = *a.TopK
			}
			return ix.Search(ctx, a.QueryText, topK)
		},
	}
}
