package quest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/murmur/internal/quest"
)

const sampleRegistry = `{
  "zeta_first": {"triggers": ["wolf"], "offer_text": "Hunt the wolf?"},
  "alpha_second": {"triggers": ["[unclosed"], "complete_triggers": ["done"], "offer_text": "Fix it?"},
  "mid_third": {"triggers": ["bell"], "offer_text": "Ring the bell?", "accept_text": "Ding!"}
}`

func TestParse_KeepsFileOrder(t *testing.T) {
	t.Parallel()
	reg, err := quest.Parse([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var ids []string
	for _, q := range reg.Quests() {
		ids = append(ids, q.ID)
	}
	if diff := cmp.Diff([]string{"zeta_first", "alpha_second", "mid_third"}, ids); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if reg.Len() != 3 || !reg.Contains("mid_third") || reg.Contains("nope") {
		t.Errorf("Len/Contains mismatch")
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"not an object", `[1,2]`},
		{"missing triggers", `{"q": {"offer_text": "x"}}`},
		{"missing offer text", `{"q": {"triggers": ["a"]}}`},
		{"triggers not strings", `{"q": {"triggers": [1], "offer_text": "x"}}`},
		{"malformed json", `{"q": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := quest.Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse: want error")
			}
		})
	}
}

func TestParse_IgnoresExtraKeys(t *testing.T) {
	t.Parallel()
	reg, err := quest.Parse([]byte(`{"q": {"triggers": ["a"], "offer_text": "x", "reward": 5, "notes": {"by": "gm"}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q, err := reg.Lookup("q")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if q.OfferText != "x" || !q.Matches("A") {
		t.Errorf("quest = %+v", q)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	reg, _ := quest.Parse([]byte(sampleRegistry))

	q, err := reg.Lookup("mid_third")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if q.AcceptText != "Ding!" || q.ID != "mid_third" {
		t.Errorf("quest = %+v", q)
	}
	if _, err := reg.Lookup("ghost"); !errors.Is(err, quest.ErrRegistryMiss) {
		t.Errorf("Lookup(ghost) err = %v, want ErrRegistryMiss", err)
	}
	var nilReg *quest.Registry
	if _, err := nilReg.Lookup("x"); !errors.Is(err, quest.ErrRegistryMiss) {
		t.Errorf("nil registry err = %v", err)
	}
}

func TestTriggers(t *testing.T) {
	t.Parallel()
	reg, _ := quest.Parse([]byte(sampleRegistry))

	wolf, _ := reg.Lookup("zeta_first")
	if !wolf.Matches("A WOLF howled last night") {
		t.Error("regex trigger must be case-insensitive")
	}
	broken, _ := reg.Lookup("alpha_second")
	if !broken.Matches("the sign said [UNCLOSED door") {
		t.Error("invalid regex must fall back to case-insensitive substring")
	}
	if broken.Matches("nothing here") {
		t.Error("substring fallback matched unrelated text")
	}
	if !broken.Completes("I am DONE") {
		t.Error("completion trigger did not match")
	}
}

func TestNewRegistry_Duplicates(t *testing.T) {
	t.Parallel()
	if _, err := quest.NewRegistry(quest.Quest{ID: "a"}, quest.Quest{ID: "a"}); err == nil {
		t.Error("duplicate ids: want error")
	}
	if _, err := quest.NewRegistry(quest.Quest{}); err == nil {
		t.Error("empty id: want error")
	}
}

func TestLoad_ShippedRegistry(t *testing.T) {
	t.Parallel()
	reg, err := quest.Load(filepath.Join("..", "..", "configs", "quests.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"warn_venue_before_curfew", "gather_festival_supplies"} {
		if !reg.Contains(id) {
			t.Errorf("shipped registry lacks %q", id)
		}
	}

	if _, err := quest.Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want os.ErrNotExist", err)
	}
}
