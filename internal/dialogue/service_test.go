package dialogue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/dialogue"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
)

func malrik() *world.Character {
	return &world.Character{
		ID:          "malrik_merchant",
		Personality: "sharp-eyed merchant",
		Emotion:     world.EmotionNeutral,
		Inventory:   []string{"spice_pouch"},
	}
}

func TestSummarizeRecall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stored int
		texts  []string
		err    error
		want   string
	}{
		{"empty store", 0, nil, nil, dialogue.RecallFirstMeeting},
		{"nothing relevant", 4, nil, nil, dialogue.RecallIrrelevant},
		{"recall failed", 4, nil, errors.New("index down"), dialogue.RecallHazy},
		{"two memories", 4, []string{"a", "b"}, nil,
			"Relevant recent memories based on your statement:\n  Memory 1: a\n  Memory 2: b"},
	}
	for _, tt := range tests {
		if got := dialogue.SummarizeRecall(tt.stored, tt.texts, tt.err); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCharacterRequest(t *testing.T) {
	t.Parallel()
	req := dialogue.CharacterRequest(dialogue.Scene{
		NPC:       malrik(),
		Utterance: "Any saffron?",
		Recall:    dialogue.RecallFirstMeeting,
		Guidance:  "Mention the curfew.",
		TimeOfDay: world.Night,
		Weather:   "Foggy",
		Location:  "Town Square",
	})

	for _, want := range []string{"malrik_merchant", "sharp-eyed merchant", "spice_pouch", dialogue.RecallFirstMeeting, "Mention the curfew.", "night", "curious"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt lacks %q", want)
		}
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "Any saffron?") {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != 0.75 || req.MaxTokens != 200 || !req.JSON {
		t.Errorf("sampling = %v %d %v", req.Temperature, req.MaxTokens, req.JSON)
	}
}

func TestRespond(t *testing.T) {
	t.Parallel()

	t.Run("parsed", func(t *testing.T) {
		t.Parallel()
		p := llmmock.Reply(`{"response": "Saffron? Fresh today.", "emotion_state": "excited"}`)
		svc := dialogue.New(p)
		r, err := svc.Respond(context.Background(), dialogue.Scene{NPC: malrik(), Utterance: "Any saffron?"})
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if r.Text() != "Saffron? Fresh today." || r.NextEmotion(world.EmotionNeutral) != world.EmotionExcited {
			t.Errorf("reply = %#v", r)
		}
		calls := p.Calls()
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		if _, ok := calls[0].Ctx.Deadline(); !ok {
			t.Error("provider call must carry a deadline")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		svc := dialogue.New(llmmock.Reply("Just words."))
		r, err := svc.Respond(context.Background(), dialogue.Scene{NPC: malrik(), Utterance: "hi"})
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if _, ok := r.(dialogue.FallbackReply); !ok || r.Text() != "Just words." {
			t.Errorf("reply = %#v", r)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		svc := dialogue.New(&llmmock.Provider{CompleteErr: errors.New("503")})
		_, err := svc.Respond(context.Background(), dialogue.Scene{NPC: malrik(), Utterance: "hi"})
		if !errors.Is(err, dialogue.ErrProviderUnavailable) {
			t.Errorf("err = %v, want ErrProviderUnavailable", err)
		}
	})

	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		svc := dialogue.New(nil)
		if svc.Available() {
			t.Error("Available() with nil provider")
		}
		_, err := svc.Respond(context.Background(), dialogue.Scene{NPC: malrik(), Utterance: "hi"})
		if !errors.Is(err, dialogue.ErrProviderUnavailable) {
			t.Errorf("err = %v, want ErrProviderUnavailable", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{}
		p.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
			ctx := p.Calls()[0].Ctx
			<-ctx.Done()
			return nil, ctx.Err()
		}
		svc := dialogue.New(p, dialogue.WithTimeout(10*time.Millisecond))
		_, err := svc.Respond(context.Background(), dialogue.Scene{NPC: malrik(), Utterance: "hi"})
		if !errors.Is(err, dialogue.ErrProviderUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want provider unavailable by deadline", err)
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	want := "malrik_merchant remembers that the player said 'Any saffron?', and malrik_merchant replied 'Fresh today.'."

	if got := dialogue.New(nil).Summarize(context.Background(), "malrik_merchant", "Any saffron?", "Fresh today."); got != want {
		t.Errorf("no provider: %q", got)
	}

	failing := dialogue.New(&llmmock.Provider{CompleteErr: errors.New("down")})
	if got := failing.Summarize(context.Background(), "malrik_merchant", "Any saffron?", "Fresh today."); got != want {
		t.Errorf("failing provider: %q", got)
	}

	blank := dialogue.New(llmmock.Reply("   "))
	if got := blank.Summarize(context.Background(), "malrik_merchant", "Any saffron?", "Fresh today."); got != want {
		t.Errorf("blank summary: %q", got)
	}

	p := llmmock.Reply(" malrik_merchant remembers that the player wants saffron. ")
	got := dialogue.New(p).Summarize(context.Background(), "malrik_merchant", "Any saffron?", "Fresh today.")
	if got != "malrik_merchant remembers that the player wants saffron." {
		t.Errorf("model summary: %q", got)
	}
	if req := p.Calls()[0].Req; req.Temperature != 0.5 || req.MaxTokens != 60 || req.JSON {
		t.Errorf("summary sampling = %+v", req)
	}
}

func TestStub(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hello there":      dialogue.StubGreeting,
		"hi!":              dialogue.StubGreeting,
		"Hey, merchant":    dialogue.StubGreeting,
		"What is this?":    dialogue.StubConfused,
		"Where is the inn": dialogue.StubConfused,
	}
	for in, want := range tests {
		if got := dialogue.Stub(in); got != want {
			t.Errorf("Stub(%q) = %q, want %q", in, got, want)
		}
	}
}
