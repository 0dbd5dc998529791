// Package openai embeds text through the OpenAI /embeddings endpoint, or any
// server that speaks the same protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
)

// DefaultModel is used when New receives an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// DefaultBatchSize is the number of inputs sent per request. The hosted API
// rejects more than 2048.
const DefaultBatchSize = 2048

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider.
type Provider struct {
	client     oai.Client
	model      string
	batchSize  int
	dimensions int64
}

// Option configures a Provider.
type Option func(*Provider, *[]option.RequestOption)

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		if url != "" {
			*ro = append(*ro, option.WithBaseURL(url))
		}
	}
}

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		if d > 0 {
			*ro = append(*ro, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithBatchSize caps how many texts go into one request. Larger inputs are
// split and the results concatenated in order.
func WithBatchSize(n int) Option {
	return func(p *Provider, _ *[]option.RequestOption) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDimensions asks text-embedding-3 models for shortened vectors.
func WithDimensions(n int) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.dimensions = int64(n) }
}

// New constructs an embeddings Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	p := &Provider{model: model, batchSize: DefaultBatchSize}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(p, &reqOpts)
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: inputs %d..%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(p.dimensions)
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API does not promise response order; place each vector by its index.
	vecs := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) || vecs[e.Index] != nil {
			return nil, fmt.Errorf("unexpected index %d", e.Index)
		}
		vecs[e.Index] = toFloat32(e.Embedding)
	}
	return vecs, nil
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
