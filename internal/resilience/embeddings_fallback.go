package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxdesk/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several endpoints serving the same embedding model. Vectors from different
// models are not comparable, so every fallback must report the primary's
// model id and dimensionality.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred endpoint.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional endpoint. It fails when the endpoint
// serves a different model or dimensionality than the primary.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	primary := f.group.Primary()
	if provider.ModelID() != primary.ModelID() {
		return fmt.Errorf("resilience: embeddings fallback %q serves model %q, primary serves %q",
			name, provider.ModelID(), primary.ModelID())
	}
	if pd, fd := primary.Dimensions(), provider.Dimensions(); pd != 0 && fd != 0 && pd != fd {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary has %d", name, fd, pd)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed embeds text with the first healthy endpoint.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch embeds texts with the first healthy endpoint. A batch is never
// split across endpoints.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's dimensionality.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID returns the primary's model id.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }
