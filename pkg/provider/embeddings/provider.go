// Package embeddings defines the Provider interface for vector embedding
// backends. The title search tools embed every candidate title together with
// the query in a single batch and rank by dot product, so the interface is
// batch-first.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense vectors.
type Provider interface {
	// EmbedBatch returns one vector per input text, in input order. Vectors from
	// a single call share the same dimensionality. On error no partial result is
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID returns the embedding model identifier, for logging.
	ModelID() string
}

// Dot returns the dot product of a and b over their common prefix.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := range n {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
