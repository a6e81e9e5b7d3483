package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := llmmock.Reply("hello from primary")
	secondary := llmmock.Reply("hello from secondary")

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := llmmock.Reply("hello from secondary")

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete_AttemptTimeout(t *testing.T) {
	primary := &llmmock.Provider{}
	primary.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		ctx := primary.Calls()[0].Ctx
		<-ctx.Done()
		return nil, ctx.Err()
	}
	secondary := llmmock.Reply("quick")

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
		AttemptTimeout: 20 * time.Millisecond,
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "quick" {
		t.Fatalf("content = %q, want quick", resp.Content)
	}
}

func TestLLMFallback_ModelID(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{Model: "gpt-4o-mini"}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{Model: "llama3.2"})
	if got := fb.ModelID(); got != "gpt-4o-mini" {
		t.Fatalf("ModelID = %q, want primary model", got)
	}
}
