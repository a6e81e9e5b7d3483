package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeConfig writes a config with quiet narrative rules next to it and
// returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "narrative.yaml"), []byte("rules:\n  - name: quiet\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "murmur.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  narrative_rules_file: narrative.yaml\n"+body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTick_ResumesSavegame(t *testing.T) {
	cfg := writeConfig(t, "")
	saveDir := filepath.Join(t.TempDir(), "demo")

	for want := int64(1); want <= 2; want++ {
		out, err := execute(t, "--config", cfg, "--log-level", "error", "tick",
			"--save-dir", saveDir, "--event", "player_chat",
			"--param", "npc_id=malrik_merchant", "--param", "text=Any spices today?")
		if err != nil {
			t.Fatalf("tick %d: %v", want, err)
		}
		var res struct {
			Response string `json:"response"`
			State    struct {
				Tick int64 `json:"simulation_time"`
			} `json:"state"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if res.State.Tick != want || res.Response == "" {
			t.Errorf("tick %d: got simulation_time %d, response %q", want, res.State.Tick, res.Response)
		}
	}
	if _, err := os.Stat(filepath.Join(saveDir, "state.json")); err != nil {
		t.Errorf("savegame not written: %v", err)
	}
}

func TestCommands_Errors(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing config", []string{"--config", "/does/not/exist.yaml", "validate"}, "not found"},
		{"bad log format", []string{"--config", cfg, "--log-format", "xml", "validate"}, "--log-format"},
		{"bad log level", []string{"--config", cfg, "--log-level", "loud", "validate"}, "--log-level"},
		{"tick without event", []string{"--config", cfg, "tick", "--save-dir", t.TempDir()}, "event"},
		{"tick bad param", []string{"--config", cfg, "tick", "--save-dir", t.TempDir(), "--event", "player_chat", "--param", "oops"}, "key=value"},
		{"mcp bad transport", []string{"--config", cfg, "mcp", "--transport", "sse"}, "--transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	quests, err := filepath.Abs(filepath.Join("..", "..", "configs", "quests.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, "  quests_file: "+quests+"\n")

	out, err := execute(t, "--config", cfg, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (3 characters, 3 quests, 1 narrative rules)") {
		t.Errorf("output = %q", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "murmur dev\n" {
		t.Errorf("version = %q", out)
	}
}

func TestParseParams(t *testing.T) {
	t.Parallel()
	got, err := parseParams([]string{"npc_id=malrik_merchant", "quantity=3", "text=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"npc_id": "malrik_merchant", "quantity": 3, "text": "a=b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseParams mismatch (-want +got):\n%s", diff)
	}
}
