package resilience

import (
	"context"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried. Each attempt
// gets its own AttemptTimeout.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		actx, cancel := f.group.attemptContext(ctx)
		defer cancel()
		return p.Complete(actx, req)
	})
}

// ModelID returns the primary's model. It does not participate in failover
// because it is static metadata.
func (f *LLMFallback) ModelID() string { return f.group.primary().ModelID() }

// Breakers reports the breaker state of every backend in try order.
func (f *LLMFallback) Breakers() []BreakerStatus { return f.group.Breakers() }

// Check fails while every backend's breaker is open.
func (f *LLMFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
