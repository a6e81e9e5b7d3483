package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/murmur/internal/health"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *health.Handler, req *http.Request) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, b
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := health.New(health.PingChecker("memory_backend", fakePinger{err: errors.New("down")}))
	code, b := serve(t, h, httptest.NewRequest("GET", "/healthz", nil))
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, b.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantStatus int
		want       body
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			want:       body{Status: "ok"},
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				health.PingChecker("memory_backend", fakePinger{}),
				health.NonEmptyChecker("quests", func() int { return 2 }),
			},
			wantStatus: http.StatusOK,
			want:       body{Status: "ok", Checks: map[string]string{"memory_backend": "ok", "quests": "ok"}},
		},
		{
			name: "ping fails",
			checkers: []health.Checker{
				health.PingChecker("memory_backend", fakePinger{err: errors.New("connection refused")}),
				health.NonEmptyChecker("quests", func() int { return 1 }),
			},
			wantStatus: http.StatusServiceUnavailable,
			want: body{Status: "fail", Checks: map[string]string{
				"memory_backend": "fail: connection refused",
				"quests":         "ok",
			}},
		},
		{
			name: "empty registry",
			checkers: []health.Checker{
				health.NonEmptyChecker("quests", func() int { return 0 }),
			},
			wantStatus: http.StatusServiceUnavailable,
			want:       body{Status: "fail", Checks: map[string]string{"quests": "fail: nothing loaded"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, got := serve(t, health.New(tt.checkers...), httptest.NewRequest("GET", "/readyz", nil))
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := health.New(
		health.Checker{Name: "a", Check: slow},
		health.Checker{Name: "b", Check: slow},
		health.Checker{Name: "c", Check: slow},
	)
	start := time.Now()
	code, _ := serve(t, h, httptest.NewRequest("GET", "/readyz", nil))
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("readyz took %s, checks appear sequential", elapsed)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := serve(t, h, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}
