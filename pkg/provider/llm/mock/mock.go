// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to check the prompts murmur sends and to feed
// scripted NPC replies without a live backend. Set fields before the first
// call; mutating them during a concurrent call is the caller's responsibility.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"response":"Hello!","emotion_state":"happy"}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, if set, produces the reply and takes precedence over
	// CompleteResponse and CompleteErr.
	CompleteFunc func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// Model is returned by ModelID. Defaults to "mock".
	Model string

	calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Reply is a convenience constructor for a Provider that always answers with
// content.
func Reply(content string) *Provider {
	return &Provider{CompleteResponse: &llm.CompletionResponse{Content: content, FinishReason: "stop"}}
}

// Complete records the call and returns the configured reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return resp, err
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock"
	}
	return p.Model
}

// Calls returns a copy of all recorded Complete invocations.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
