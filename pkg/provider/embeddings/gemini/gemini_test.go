package gemini_test

import (
	"context"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/embeddings/gemini"
)

func TestNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := gemini.New(ctx, "", ""); err == nil {
		t.Error("New with empty API key: want error")
	}

	p, err := gemini.New(ctx, "test-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != gemini.DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), gemini.DefaultModel)
	}
	if p.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", p.Dimensions())
	}

	p, err = gemini.New(ctx, "test-key", "text-embedding-004", gemini.WithDimensions(384))
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
	if p.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384", p.Dimensions())
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()
	p, err := gemini.New(context.Background(), "test-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", got, err)
	}
}
