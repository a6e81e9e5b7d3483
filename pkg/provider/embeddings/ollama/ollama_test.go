package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/murmur/pkg/provider/embeddings/ollama"
)

// mockEmbedServer serves /api/embed and answers with the first len(input)
// vectors of responses. It counts requests in hits when non-nil.
func mockEmbedServer(t *testing.T, wantModel string, responses [][]float32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model: got %q, want %q", req.Model, wantModel)
		}
		result := responses
		if len(result) > len(req.Input) {
			result = result[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": wantModel, "embeddings": result})
	}))
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != ollama.DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), ollama.DefaultModel)
	}
	if p.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384 for all-minilm", p.Dimensions())
	}
}

func TestEmbed_Single(t *testing.T) {
	t.Parallel()
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := mockEmbedServer(t, "nomic-embed-text", [][]float32{want}, nil)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Embed mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()
	vecs := [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}
	srv := mockEmbedServer(t, "all-minilm", vecs, nil)
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "all-minilm")
	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if diff := cmp.Diff(vecs, got); diff != "" {
		t.Errorf("EmbedBatch mismatch (-want +got):\n%s", diff)
	}

	empty, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", empty, err)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large:latest", 1024},
		{"all-minilm:l6-v2", 384},
	}
	for _, tt := range tests {
		p, _ := ollama.New("http://127.0.0.1:1", tt.model)
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("%s: Dimensions() = %d, want %d", tt.model, got, tt.want)
		}
	}

	p, _ := ollama.New("http://127.0.0.1:1", "custom", ollama.WithDimensions(12))
	if got := p.Dimensions(); got != 12 {
		t.Errorf("WithDimensions: Dimensions() = %d, want 12", got)
	}
}

func TestDimensions_ProbesOnce(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := mockEmbedServer(t, "custom-embed", [][]float32{{1, 2, 3, 4, 5}}, &hits)
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "custom-embed")
	for i := 0; i < 3; i++ {
		if got := p.Dimensions(); got != 5 {
			t.Fatalf("Dimensions() = %d, want 5", got)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("probe requests = %d, want 1", n)
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	t.Run("server down", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("http://127.0.0.1:19999", "all-minilm", ollama.WithTimeout(500*time.Millisecond))
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for unreachable server")
		}
	})

	t.Run("status 500", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "all-minilm")
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for 500 response")
		}
	})

	t.Run("empty embeddings", func(t *testing.T) {
		t.Parallel()
		srv := mockEmbedServer(t, "all-minilm", nil, nil)
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "all-minilm")
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for empty embeddings")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		stopCh := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-stopCh:
			}
		}))
		// LIFO: unblock the handler before Close drains connections.
		defer srv.Close()
		defer close(stopCh)

		p, _ := ollama.New(srv.URL, "all-minilm")
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		if _, err := p.Embed(ctx, "hello"); err == nil {
			t.Fatal("expected context cancellation error")
		}
	})
}
