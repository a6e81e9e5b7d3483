package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/murmur/internal/observe"
	embmock "github.com/MrWong99/murmur/pkg/provider/embeddings/mock"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
)

func TestMetered_RecordsRequestsPerBackend(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	fb := NewLLMFallback(
		NewMeteredLLM(&llmmock.Provider{CompleteErr: errors.New("down")}, "openai", metrics),
		"openai", FallbackConfig{},
	)
	fb.AddFallback("ollama", NewMeteredLLM(llmmock.Reply("hi"), "ollama", metrics))
	if _, err := fb.Complete(ctx, llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	emb := NewMeteredEmbeddings(&embmock.Provider{EmbedResult: []float32{1}}, "gemini", metrics)
	if _, err := emb.Embed(ctx, "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "murmur.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				got[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	want := map[string]int64{"openai/error": 1, "ollama/ok": 1, "gemini/ok": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("requests[%s] = %d, want %d (all: %v)", k, got[k], v, got)
		}
	}
}
