// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// Requests go through the official Ollama Go client (github.com/ollama/ollama/api)
// against the /api/embed endpoint. The default model is all-minilm, whose
// 384-dimensional vectors are cheap enough to embed every NPC memory line.
//
//	p, err := ollama.New("", "") // http://localhost:11434, all-minilm
//	vec, err := p.Embed(ctx, "The merchant haggled over saffron.")
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/murmur/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// DefaultModel is used when New receives an empty model name.
const DefaultModel = "all-minilm"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions.
//  2. The built-in table for recognised model names.
//  3. A single probe embed on the first Dimensions call, cached afterwards.
type Provider struct {
	client *api.Client
	model  string

	mu         sync.Mutex
	dimensions int
	probed     bool
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension and skips the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs a Provider. An empty baseURL selects DefaultBaseURL and an
// empty model selects DefaultModel.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base url: %w", err)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Provider{
		client:     api.NewClient(u, httpClient),
		model:      model,
		dimensions: dims,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. An empty texts slice returns
// (nil, nil) without a network request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For unknown models a probe embed
// is issued once; if it fails, 0 is returned and the probe is retried on the
// next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimensions != 0 || p.probed {
		return p.dimensions
	}
	vecs, err := p.callEmbed(context.Background(), []string{"probe"})
	if err != nil {
		return 0
	}
	p.probed = true
	p.dimensions = len(vecs[0])
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return resp.Embeddings, nil
}

// knownDimensions returns the output dimension for recognised model names, or
// 0 for unknown ones.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
