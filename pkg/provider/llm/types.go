package llm

// Conversation roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the turn.
	Content string

	// Name optionally identifies the speaker, e.g. the NPC id on assistant
	// turns.
	Name string
}
