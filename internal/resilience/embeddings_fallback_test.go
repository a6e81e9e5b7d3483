package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	embmock "github.com/MrWong99/murmur/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_Embed_Failover(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errors.New("rate limited"), DimensionsValue: 3, ModelIDValue: "primary-embed"}
	secondary := &embmock.Provider{EmbedResult: []float32{0, 1, 0}, DimensionsValue: 3}

	fb := NewEmbeddingsFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if err := fb.AddFallback("ollama", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	vec, err := fb.Embed(context.Background(), "the merchant sells spice")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff([]float32{0, 1, 0}, vec); diff != "" {
		t.Errorf("vector (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"the merchant sells spice"}, secondary.EmbedTexts()); diff != "" {
		t.Errorf("secondary texts (-want +got):\n%s", diff)
	}
	if fb.Dimensions() != 3 || fb.ModelID() != "primary-embed" {
		t.Errorf("metadata = %d %q, want primary's", fb.Dimensions(), fb.ModelID())
	}
}

func TestEmbeddingsFallback_EmbedBatch_AllFail(t *testing.T) {
	primary := &embmock.Provider{EmbedBatchErr: errors.New("down"), DimensionsValue: 2}
	secondary := &embmock.Provider{EmbedBatchErr: errors.New("also down"), DimensionsValue: 2}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}
	if _, err := fb.EmbedBatch(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
