package resilience

import (
	"context"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/embeddings"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// ── Metered providers ────────────────────────────────────────────────────────
//
// Wrap each concrete backend before it enters a fallback group so that
// murmur.provider.requests is labelled with the backend that actually served
// (or failed) the call.

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MeteredLLM records one provider request per Complete call.
type MeteredLLM struct {
	llm.Provider
	name    string
	metrics *observe.Metrics
}

var _ llm.Provider = (*MeteredLLM)(nil)

// NewMeteredLLM wraps p. A nil metrics uses [observe.DefaultMetrics].
func NewMeteredLLM(p llm.Provider, name string, metrics *observe.Metrics) *MeteredLLM {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &MeteredLLM{Provider: p, name: name, metrics: metrics}
}

// Complete implements [llm.Provider].
func (m *MeteredLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := m.Provider.Complete(ctx, req)
	m.metrics.RecordProviderRequest(ctx, m.name, "llm", status(err))
	return resp, err
}

// MeteredEmbeddings records one provider request per Embed or EmbedBatch call.
type MeteredEmbeddings struct {
	embeddings.Provider
	name    string
	metrics *observe.Metrics
}

var _ embeddings.Provider = (*MeteredEmbeddings)(nil)

// NewMeteredEmbeddings wraps p. A nil metrics uses [observe.DefaultMetrics].
func NewMeteredEmbeddings(p embeddings.Provider, name string, metrics *observe.Metrics) *MeteredEmbeddings {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &MeteredEmbeddings{Provider: p, name: name, metrics: metrics}
}

// Embed implements [embeddings.Provider].
func (m *MeteredEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.Provider.Embed(ctx, text)
	m.metrics.RecordProviderRequest(ctx, m.name, "embeddings", status(err))
	return vec, err
}

// EmbedBatch implements [embeddings.Provider].
func (m *MeteredEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := m.Provider.EmbedBatch(ctx, texts)
	m.metrics.RecordProviderRequest(ctx, m.name, "embeddings", status(err))
	return vecs, err
}
