// Package mock provides a test double for embeddings.Provider.
//
//	p := &mock.Provider{
//	    Vectors: map[string][]float32{"query": {1, 0}, "title": {0.9, 0.1}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to the vector returned for it. Texts not present
	// get a nil vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned from EmbedBatch.
	Err error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// BatchCalls records a copy of every texts slice passed to EmbedBatch.
	BatchCalls [][]string
}

// EmbedBatch records the call and returns the configured vectors.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatchCalls = append(p.BatchCalls, append([]string(nil), texts...))
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.Vectors[t]
	}
	return out, nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	return p.ModelIDValue
}

// Calls returns the number of EmbedBatch invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.BatchCalls)
}

var _ embeddings.Provider = (*Provider)(nil)
