// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (OpenAI text-embedding-3, a multilingual sentence transformer served
// by Ollama, ...). Ticket descriptions and similarity queries are embedded
// through this interface before they reach the similarity index.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions). Vectors from different models must
// never be mixed in one index.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or ctx
	// is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The i-th result corresponds to texts[i]. On error the
	// entire slice is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}
