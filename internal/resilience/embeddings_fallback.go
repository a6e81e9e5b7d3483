package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/murmur/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// embedding backends. All backends must produce vectors of the same
// dimensionality; AddFallback rejects one that does not, since mixing vector
// spaces would corrupt every character's index.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional embeddings provider as a fallback.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	if got, want := provider.Dimensions(), f.Dimensions(); got != want {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary %d", name, got, want)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed embeds text with the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		actx, cancel := f.group.attemptContext(ctx)
		defer cancel()
		return p.Embed(actx, text)
	})
}

// EmbedBatch embeds texts with the first healthy provider. A batch is never
// split across providers.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		actx, cancel := f.group.attemptContext(ctx)
		defer cancel()
		return p.EmbedBatch(actx, texts)
	})
}

// Dimensions returns the primary's dimensionality, shared by all entries.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.primary().Dimensions() }

// ModelID returns the primary's model.
func (f *EmbeddingsFallback) ModelID() string { return f.group.primary().ModelID() }

// Breakers reports the breaker state of every backend in try order.
func (f *EmbeddingsFallback) Breakers() []BreakerStatus { return f.group.Breakers() }

// Check fails while every backend's breaker is open.
func (f *EmbeddingsFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
