package resilience_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/pkg/provider/embeddings"
	embmock "github.com/MrWong99/murmur/pkg/provider/embeddings/mock"
)

func TestFallbackGroup_TryOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   map[string]bool
		wantTried []string
		wantFrom  string
		wantErr   bool
	}{
		{"primary answers", nil, []string{"openai"}, "openai", false},
		{"first fallback answers", map[string]bool{"openai": true}, []string{"openai", "ollama"}, "ollama", false},
		{"last fallback answers", map[string]bool{"openai": true, "ollama": true}, []string{"openai", "ollama", "gemini"}, "gemini", false},
		{"nobody answers", map[string]bool{"openai": true, "ollama": true, "gemini": true}, []string{"openai", "ollama", "gemini"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := resilience.NewFallbackGroup("openai", "openai", resilience.FallbackConfig{})
			fg.AddFallback("ollama", "ollama")
			fg.AddFallback("gemini", "gemini")

			var tried []string
			got, err := resilience.ExecuteWithResult(fg, func(name string) (string, error) {
				tried = append(tried, name)
				if tt.failing[name] {
					return "", errBackend
				}
				return name, nil
			})
			if diff := cmp.Diff(tt.wantTried, tried); diff != "" {
				t.Errorf("try order (-want +got):\n%s", diff)
			}
			if got != tt.wantFrom {
				t.Errorf("result = %q, want %q", got, tt.wantFrom)
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && (!errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, errBackend)) {
				t.Errorf("err = %v, want ErrAllFailed wrapping the last backend error", err)
			}
		})
	}
}

func TestFallbackGroup_BreakersAndCheck(t *testing.T) {
	t.Parallel()
	log := &transitionLog{}
	fg := resilience.NewFallbackGroup("openai", "openai", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   1,
			ResetTimeout:  time.Hour,
			OnStateChange: log.record,
		},
	})
	fg.AddFallback("ollama", "ollama")
	ctx := context.Background()

	// The primary trips; the fallback answers.
	err := fg.Execute(func(name string) error {
		if name == "openai" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []resilience.BreakerStatus{
		{Provider: "openai", State: resilience.StateOpen},
		{Provider: "ollama", State: resilience.StateClosed},
	}
	if diff := cmp.Diff(want, fg.Breakers()); diff != "" {
		t.Errorf("breakers (-want +got):\n%s", diff)
	}
	if err := fg.Check(ctx); err != nil {
		t.Errorf("Check with one healthy provider: %v", err)
	}

	// The fallback trips too: nothing is left to call.
	_ = fg.Execute(func(string) error { return errBackend })
	called := false
	err = fg.Execute(func(string) error { called = true; return nil })
	if called || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Execute with every breaker open: called=%v err=%v", called, err)
	}
	err = fg.Check(ctx)
	if !errors.Is(err, resilience.ErrAllOpen) || !strings.Contains(err.Error(), "openai, ollama") {
		t.Errorf("Check = %v, want ErrAllOpen naming both providers", err)
	}

	wantLog := []string{"openai: closed -> open", "ollama: closed -> open"}
	if diff := cmp.Diff(wantLog, log.lines()); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
}

func TestEmbeddingsFallback_SharedDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fallbacks []int
		wantErr   bool
		wantNames []string
	}{
		{"matching fallbacks", []int{512, 512}, false, []string{"primary", "fallback", "fallback"}},
		{"smaller fallback", []int{256}, true, []string{"primary"}},
		{"larger fallback after a good one", []int{512, 1536}, true, []string{"primary", "fallback"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := resilience.NewEmbeddingsFallback(&embmock.Provider{DimensionsValue: 512}, "primary", resilience.FallbackConfig{})
			var err error
			for _, dims := range tt.fallbacks {
				if err = fb.AddFallback("fallback", &embmock.Provider{DimensionsValue: dims}); err != nil {
					break
				}
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("AddFallback err = %v, wantErr %v", err, tt.wantErr)
			}
			var names []string
			for _, b := range fb.Breakers() {
				names = append(names, b.Provider)
			}
			if diff := cmp.Diff(tt.wantNames, names); diff != "" {
				t.Errorf("group entries (-want +got):\n%s", diff)
			}
			if fb.Dimensions() != 512 {
				t.Errorf("Dimensions = %d, want 512", fb.Dimensions())
			}
		})
	}
}

// stalledEmbedder blocks until its context ends and reports whether the
// context carried a deadline.
type stalledEmbedder struct {
	hadDeadline chan bool
}

var _ embeddings.Provider = (*stalledEmbedder)(nil)

func (s *stalledEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	_, ok := ctx.Deadline()
	s.hadDeadline <- ok
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	_, err := s.Embed(ctx, "")
	return nil, err
}

func (s *stalledEmbedder) Dimensions() int { return 2 }
func (s *stalledEmbedder) ModelID() string { return "stalled" }

func TestEmbeddingsFallback_AttemptTimeout(t *testing.T) {
	t.Parallel()
	stalled := &stalledEmbedder{hadDeadline: make(chan bool, 2)}
	backup := &embmock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2}

	fb := resilience.NewEmbeddingsFallback(stalled, "ollama", resilience.FallbackConfig{AttemptTimeout: 20 * time.Millisecond})
	if err := fb.AddFallback("openai", backup); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	// The caller's context has no deadline; the group adds one per attempt.
	vec, err := fb.Embed(context.Background(), "the bell tower is silent")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 0}, vec); diff != "" {
		t.Errorf("vector (-want +got):\n%s", diff)
	}
	if !<-stalled.hadDeadline {
		t.Error("stalled attempt ran without a deadline")
	}
	if _, ok := backup.EmbedCalls[0].Ctx.Deadline(); !ok {
		t.Error("fallback attempt ran without a deadline")
	}
}
