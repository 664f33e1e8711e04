// Package mock provides a test double for the embeddings.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	}
//	vec, _ := p.Embed(ctx, "ইন্টারনেট ধীর")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxdesk/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx context.Context
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedFunc, if set, takes precedence over EmbedResult and EmbedErr. It is
	// also used by EmbedBatch when EmbedBatchResult is nil.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedBatchResult is returned by EmbedBatch when non-nil.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

// Embed records the call and returns EmbedResult, EmbedErr.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn, res, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return res, err
}

// EmbedBatch records the call and returns EmbedBatchResult, EmbedBatchErr.
// Without a configured result it embeds each text with EmbedFunc, or returns
// one EmbedResult per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	fn, res, batchRes, batchErr := p.EmbedFunc, p.EmbedResult, p.EmbedBatchResult, p.EmbedBatchErr
	p.mu.Unlock()

	if batchErr != nil {
		return nil, batchErr
	}
	if batchRes != nil {
		return batchRes, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if fn == nil {
			out[i] = res
			continue
		}
		v, err := fn(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// EmbedCallCount returns the number of Embed invocations so far.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}
