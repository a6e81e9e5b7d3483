package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
	embmock "github.com/MrWong99/murmur/pkg/provider/embeddings/mock"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
)

const merchant = "malrik_merchant"

// testConfig returns a defaulted config whose narrative never fires, so
// chats take the plain character path.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	rules := filepath.Join(t.TempDir(), "narrative.yaml")
	if err := os.WriteFile(rules, []byte("rules:\n  - name: quiet\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Simulation.NarrativeRulesFile = rules
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testProviders() *app.Providers {
	return &app.Providers{
		Embeddings: &embmock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2},
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, providers, append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_ServesTicks(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, ""), testProviders())
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}
	var info session.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}

	body := `{"event":"player_chat","params":{"npc_id":"` + merchant + `","text":"hello there"}}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+info.ID+"/tick", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("tick = %d: %s", rec.Code, rec.Body)
	}
	var res struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Response == "" {
		t.Error("tick without a model should still answer with a stub line")
	}

	recs, err := a.Sessions().Recall(context.Background(), info.ID, merchant, "hello")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("recollections = %d, want 1", len(recs))
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code, body := get(t, h, path); code != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, code, body)
		}
	}
}

func TestNew_UsesDialogueModel(t *testing.T) {
	t.Parallel()

	model := llmmock.Reply(`{"response":"Saffron, fresh from the south.","emotion_state":"happy"}`)
	providers := testProviders()
	providers.LLM = model
	a := newApp(t, testConfig(t, ""), providers)

	ctx := context.Background()
	info, err := a.Sessions().Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Sessions().Tick(ctx, info.ID, world.EventPlayerChat, map[string]any{"npc_id": merchant, "text": "Any spices?"})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Response != "Saffron, fresh from the south." {
		t.Errorf("response = %q", res.Response)
	}
	if len(model.Calls()) == 0 {
		t.Error("dialogue model was not called")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "missing quests file",
			mutate:  func(c *config.Config) { c.Simulation.QuestsFile = "/does/not/exist.json" },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "missing narrative file",
			mutate:  func(c *config.Config) { c.Simulation.NarrativeRulesFile = "/does/not/exist.yaml" },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "dimension mismatch",
			mutate:  func(c *config.Config) { c.Memory.Dimensions = 3 },
			wantErr: memory.ErrDimensionMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, "")
			tt.mutate(cfg)
			_, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t)))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Memory.Backend = config.BackendSQLite
	cfg.Memory.DSN = filepath.Join(t.TempDir(), "memory.db")
	cfg.Simulation.QuestsFile = filepath.Join("..", "..", "configs", "quests.json")

	a := newApp(t, cfg, testProviders())
	code, body := get(t, a.Handler(), "/readyz")
	if code != http.StatusOK {
		t.Fatalf("readyz = %d: %s", code, body)
	}
	for _, check := range []string{"memory_backend", "quests"} {
		if !strings.Contains(body, check) {
			t.Errorf("readyz body %s should report %q", body, check)
		}
	}
}

func TestNew_ProviderReadiness(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
	ps, err := app.BuildProviders(cfg, mockRegistry(&llmmock.Provider{CompleteErr: errors.New("overloaded")}, 2), testMetrics(t))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	a := newApp(t, cfg, &app.Providers{LLM: ps.LLM, Embeddings: testProviders().Embeddings})

	code, body := get(t, a.Handler(), "/readyz")
	if code != http.StatusOK || !strings.Contains(body, "llm_providers") {
		t.Fatalf("readyz = %d: %s, want ok with llm_providers", code, body)
	}

	for range 5 {
		_, _ = ps.LLM.Complete(context.Background(), llm.CompletionRequest{})
	}
	code, body = get(t, a.Handler(), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with the only breaker open = %d: %s", code, body)
	}
	if !strings.Contains(body, "every provider breaker is open: primary") {
		t.Errorf("readyz body %s should name the open provider", body)
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestShutdown_SavesSessions(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Simulation.SaveDir = t.TempDir()
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	info, err := a.Sessions().Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Sessions().Tick(ctx, info.ID, world.EventPlayerChat, map[string]any{"npc_id": merchant, "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !session.HasSave(info.SaveDir) {
		t.Errorf("no savegame in %s after shutdown", info.SaveDir)
	}
	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Simulation.AutosaveInterval = time.Hour
	a := newApp(t, cfg, testProviders())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig(t, "")
	a := newApp(t, old, testProviders(), app.WithLevelVar(level))

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Simulation.Characters = []config.CharacterConfig{
		{ID: "ada_smith", Personality: "A blunt blacksmith.", Aliases: []string{"smithy"}},
		{ID: "bram_baker", Personality: "A cheerful baker."},
	}
	updated.Server.ListenAddr = ":9999"
	a.ApplyConfig(old, &updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}

	ctx := context.Background()
	info, err := a.Sessions().Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := a.Sessions().Snapshot(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(snap), "ada_smith") || strings.Contains(string(snap), merchant) {
		t.Errorf("new session should use the reloaded roster: %s", snap)
	}

	// The alias resolves without an explicit npc_id.
	if _, err := a.Sessions().Tick(ctx, info.ID, world.EventPlayerChat, map[string]any{"text": "smithy, can you fix my sword?"}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	snap, err = a.Sessions().Snapshot(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(snap), `"last_speaker":"ada_smith"`) {
		t.Errorf("alias should route the chat to ada_smith: %s", snap)
	}
}
