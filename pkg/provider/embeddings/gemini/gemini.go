// Package gemini provides an embeddings provider backed by the Google Gemini
// API through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/murmur/pkg/provider/embeddings"
)

// DefaultModel is the default Gemini embeddings model.
const DefaultModel = "gemini-embedding-001"

// defaultDimensions is the native output size of gemini-embedding-001.
const defaultDimensions = 768

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	dims   int
}

type config struct {
	dimensions int
	baseURL    string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithDimensions requests truncated embeddings of length dims.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithBaseURL overrides the API endpoint. Mostly useful in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New constructs a Provider. If model is empty, DefaultModel is used.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", err)
	}
	dims := cfg.dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Provider{client: client, model: model, dims: dims}, nil
}

func (p *Provider) embedConfig() *genai.EmbedContentConfig {
	out := int32(p.dims)
	return &genai.EmbedContentConfig{
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: &out,
	}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, p.embedConfig())
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }
