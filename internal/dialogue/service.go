// Package dialogue is the client side of the Dialogue Generation Service. It
// builds the character and memory prompts, calls an llm.Provider with a
// bounded timeout, validates the JSON reply and degrades to scripted lines
// when the model is unavailable.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// ErrProviderUnavailable is returned when no model is configured or the call
// failed.
var ErrProviderUnavailable = errors.New("dialogue: provider unavailable")

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 20 * time.Second

// Scripted lines used without a model.
const (
	StubGreeting = "Hmph. What is it?"
	StubConfused = "I can't seem to think right now."
	EmptyInput   = "You said nothing. What do you want?"
)

// Service talks to the dialogue model. A Service with a nil provider answers
// every call with ErrProviderUnavailable.
type Service struct {
	provider llm.Provider
	timeout  time.Duration
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns a Service backed by provider, which may be nil.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{provider: provider, timeout: DefaultTimeout, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether a provider is configured.
func (s *Service) Available() bool { return s != nil && s.provider != nil }

func (s *Service) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, llm.ErrEmptyResponse)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Respond asks the model to answer as the scene's NPC. Malformed output is
// not an error: it comes back as a FallbackReply.
func (s *Service) Respond(ctx context.Context, sc Scene) (Reply, error) {
	out, err := s.complete(ctx, CharacterRequest(sc))
	if err != nil {
		return nil, fmt.Errorf("dialogue: respond as %s: %w", sc.NPC.ID, err)
	}
	reply := ParseReply(out)
	if fb, ok := reply.(FallbackReply); ok {
		s.log.Warn("dialogue: using raw reply", "npc_id", sc.NPC.ID, "err", fb.Err)
	}
	return reply, nil
}

// Summarize condenses an exchange into one memory sentence. It never fails:
// without a usable model answer the deterministic FallbackSummary is used.
func (s *Service) Summarize(ctx context.Context, npcID, utterance, response string) string {
	fallback := FallbackSummary(npcID, utterance, response)
	if !s.Available() {
		return fallback
	}
	out, err := s.complete(ctx, SummaryRequest(npcID, utterance, response))
	if err != nil {
		s.log.Warn("dialogue: summary failed, using fallback", "npc_id", npcID, "err", err)
		return fallback
	}
	if out == "" {
		return fallback
	}
	return out
}

// Stub returns the scripted line an NPC says when the model is unavailable.
func Stub(utterance string) string {
	if isGreeting(utterance) {
		return StubGreeting
	}
	return StubConfused
}

func isGreeting(s string) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		switch w {
		case "hello", "hi", "hey", "greetings":
			return true
		}
	}
	return false
}
