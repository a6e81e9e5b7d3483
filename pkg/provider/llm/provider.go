// Package llm defines the Provider interface for the Dialogue Generation
// Service: the chat-completion backend that writes NPC lines and condenses
// conversation turns into memories.
//
// murmur never generates dialogue itself. Everything that needs free text
// goes through a Provider, so backends (OpenAI, any-llm-go, a test mock) are
// interchangeable and can be stacked behind resilience.LLMFallback.
//
// Implementors must be safe for concurrent use and must honour context
// cancellation.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without any choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system turn.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// Temperature controls randomness. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the backend default.
	MaxTokens int

	// JSON asks the backend for a JSON object reply where supported. Callers
	// must still validate the result; backends without a JSON mode ignore it.
	JSON bool
}

// CompletionResponse is the full reply of a Complete call.
type CompletionResponse struct {
	// Content is the text of the reply.
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID names the model serving the requests. Used in logs and metrics.
	ModelID() string
}
