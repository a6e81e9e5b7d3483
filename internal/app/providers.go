package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/pkg/provider/embeddings"
	geminiembed "github.com/MrWong99/murmur/pkg/provider/embeddings/gemini"
	ollamaembed "github.com/MrWong99/murmur/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/murmur/pkg/provider/embeddings/openai"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/murmur/pkg/provider/llm/openai"
)

// Providers holds one interface value per provider role. Nil means the role
// is not configured: characters then answer with stub lines and keep no
// vector memory.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// provider from the implementation packages.
//
// Recognised options: "organization" (openai), "dimensions" (embeddings).
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the Chat Completions API directly so JSON mode is
	// enforced server-side.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends share the same pattern: optional APIKey
	// plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("gemini", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []geminiembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminiembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, geminiembed.WithDimensions(dims))
		}
		// The client only uses ctx while it is being built.
		return geminiembed.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// BuildProviders instantiates the providers named in cfg using reg. Every
// backend is metered and the primary plus its fallbacks are grouped behind
// circuit breakers, with cfg.Providers.Timeout bounding each attempt. Breaker
// transitions are counted on metrics (observe.DefaultMetrics when nil).
//
// An unregistered primary is skipped with a warning so the simulation still
// runs on its provider-free paths.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ps := &Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "llm", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		default:
			fbCfg := fallbackConfig(cfg.Providers, "llm", metrics)
			group := resilience.NewLLMFallback(resilience.NewMeteredLLM(p, entry.Name, metrics), entry.Name, fbCfg)
			for _, fb := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, resilience.NewMeteredLLM(fp, fb.Name, metrics))
			}
			ps.LLM = group
			slog.Info("provider created", "kind", "llm", "name", entry.Name,
				"model", entry.Model, "fallbacks", len(cfg.Providers.LLMFallbacks))
		}
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "embeddings", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		default:
			fbCfg := fallbackConfig(cfg.Providers, "embeddings", metrics)
			group := resilience.NewEmbeddingsFallback(resilience.NewMeteredEmbeddings(p, entry.Name, metrics), entry.Name, fbCfg)
			for _, fb := range cfg.Providers.EmbeddingsFallbacks {
				fp, err := reg.CreateEmbeddings(fb)
				if err != nil {
					return nil, fmt.Errorf("create embeddings fallback %q: %w", fb.Name, err)
				}
				if err := group.AddFallback(fb.Name, resilience.NewMeteredEmbeddings(fp, fb.Name, metrics)); err != nil {
					return nil, err
				}
			}
			ps.Embeddings = group
			slog.Info("provider created", "kind", "embeddings", "name", entry.Name,
				"model", entry.Model, "dimensions", group.Dimensions(),
				"fallbacks", len(cfg.Providers.EmbeddingsFallbacks))
		}
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// fallbackConfig returns the group settings for one provider kind. Breaker
// transitions land on the murmur.provider.breaker.transitions counter.
func fallbackConfig(pc config.ProvidersConfig, kind string, metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		AttemptTimeout: pc.Timeout,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, kind, to.String())
			},
		},
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int;
// float64 is accepted for maps built from JSON.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
