package agent_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/murmur/internal/agent"
)

func TestAddressDetector(t *testing.T) {
	t.Parallel()

	d := agent.NewAddressDetector(
		[]string{"malrik_merchant", "helena_guard", "rowan_bard"},
		map[string][]string{"rowan_bard": {"the minstrel"}},
	)

	tests := []struct {
		name        string
		text        string
		lastSpeaker string
		want        string
		wantErr     error
	}{
		{"full name", "Malrik Merchant, got saffron?", "", "malrik_merchant", nil},
		{"first name", "Hello Helena!", "", "helena_guard", nil},
		{"role word", "Guard, is the gate open?", "", "helena_guard", nil},
		{"alias", "Play us a song, minstrel", "", "rowan_bard", nil},
		{"misspelt", "Malric, what news?", "", "malrik_merchant", nil},
		{"last speaker", "And what about the price?", "helena_guard", "helena_guard", nil},
		{"unknown last speaker", "And then?", "ghost", "", agent.ErrNoTarget},
		{"nobody", "What a lovely day.", "", "", agent.ErrNoTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.Detect(tt.text, tt.lastSpeaker)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestAddressDetector_SingleNPC(t *testing.T) {
	t.Parallel()
	d := agent.NewAddressDetector([]string{"helena_guard"}, nil)
	got, err := d.Detect("Anyone there?", "")
	if err != nil || got != "helena_guard" {
		t.Errorf("Detect = %q, %v; want helena_guard", got, err)
	}
}
