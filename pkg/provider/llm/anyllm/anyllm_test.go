package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   llm.Message
	}{
		{"system", llm.Message{Role: llm.RoleSystem, Content: "You are Malrik."}},
		{"user", llm.Message{Role: llm.RoleUser, Content: "Got any spices?"}},
		{"assistant with name", llm.Message{Role: llm.RoleAssistant, Content: "Saffron, fresh.", Name: "malrik_merchant"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(tt.in)
			if got.Role != tt.in.Role {
				t.Errorf("Role = %q, want %q", got.Role, tt.in.Role)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("Content = %q, want %q", got.ContentString(), tt.in.Content)
			}
			if got.Name != tt.in.Name {
				t.Errorf("Name = %q, want %q", got.Name, tt.in.Name)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{name: "ollama", model: "llama3.2"}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Helena.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Halt!"}},
		Temperature:  0.75,
		MaxTokens:    200,
		JSON:         true,
	})
	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "You are Helena.") || !strings.Contains(sys, "JSON object") {
		t.Errorf("system prompt = %q", sys)
	}
	if params.Temperature == nil || *params.Temperature != 0.75 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(bare.Messages) != 1 {
		t.Errorf("without system prompt: len(Messages) = %d, want 1", len(bare.Messages))
	}
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero temperature and max tokens must stay unset")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "m"); err == nil {
		t.Error("empty backend: want error")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("empty model: want error")
	}
	if _, err := New("nonexistent", "m"); err == nil {
		t.Error("unsupported backend: want error")
	}

	p, err := New("Ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if got := p.ModelID(); got != "ollama/llama3.2" {
		t.Errorf("ModelID() = %q", got)
	}

	if _, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")); err != nil {
		t.Errorf("New(openai) with key: %v", err)
	}
}
