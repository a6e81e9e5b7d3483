// Package world holds the shared blackboard every simulation stage reads and
// writes: the player, the characters, the quest log, the current event and the
// derived clock.
//
// A State is owned by exactly one tick at a time. It is not safe for
// concurrent use; internal/session serialises access per session.
package world

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/MrWong99/murmur/pkg/memory"
)

// Quest bookkeeping errors. ActivateQuest and OfferQuest return them wrapped.
var (
	ErrQuestActive    = errors.New("world: quest already active")
	ErrQuestCompleted = errors.New("world: quest already completed")
	ErrQuestPending   = errors.New("world: quest is pending an answer")
	ErrUnknownNPC     = errors.New("world: unknown character")
)

// Chunk is a known location the player can move to.
type Chunk struct {
	Neighbors []string `json:"neighbors"`
}

// PlayerStats holds the player's numeric and flag attributes.
type PlayerStats struct {
	Gold     int  `json:"gold"`
	GateOpen bool `json:"gate_open"`
}

// Character is one NPC. Memory is exclusively owned by the character and is
// persisted separately from the JSON form.
type Character struct {
	ID          string   `json:"npc_id"`
	Personality string   `json:"personality"`
	Emotion     Emotion  `json:"emotion_state"`
	Inventory   []string `json:"inventory"`

	// MemoryLog is the append-only plain-text memory list.
	MemoryLog []string `json:"memory"`

	Memory *memory.Store `json:"-"`
}

// Remember appends line to the character's memory log.
func (c *Character) Remember(line string) { c.MemoryLog = append(c.MemoryLog, line) }

// MemorySignal asks the memory-update stage to embed Text into Owner's store.
type MemorySignal struct {
	Owner string
	Text  string
}

// State is the world blackboard of one session.
type State struct {
	Tick      int64     `json:"simulation_time"`
	TimeOfDay TimeOfDay `json:"time_of_day"`
	Weather   string    `json:"weather"`
	Location  string    `json:"location"`

	PlayerLocation  string           `json:"player_location"`
	PlayerInventory []string         `json:"player_inventory"`
	PlayerStats     PlayerStats      `json:"player_stats"`
	WorldChunks     map[string]Chunk `json:"world_chunks"`

	Characters map[string]*Character `json:"npc_states"`

	ActiveQuests    []string `json:"active_quests"`
	CompletedQuests []string `json:"completed_quests"`
	QuestHistory    []string `json:"quest_history"`
	PendingQuest    string   `json:"pending_quest,omitempty"`

	LastEvent         EventKind      `json:"last_event,omitempty"`
	EventParams       map[string]any `json:"event_params,omitempty"`
	PendingToolAction *ToolAction    `json:"tool_action,omitempty"`
	Response          string         `json:"response,omitempty"`

	// LastSpeaker is the NPC that answered most recently. Chats without a
	// recognisable addressee continue with it.
	LastSpeaker string `json:"last_speaker,omitempty"`

	CurrentStoryBeat  string `json:"current_story_beat,omitempty"`
	NarrativeGuidance string `json:"narrative_guidance,omitempty"`
	NarrativeCooldown int    `json:"narrative_cooldown"`
	CurrentEvent      string `json:"current_event,omitempty"`

	signal    *MemorySignal
	responded bool
	speaker   string
}

// CharacterIDs returns the character ids in sorted order.
func (s *State) CharacterIDs() []string {
	ids := make([]string, 0, len(s.Characters))
	for id := range s.Characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Character looks up a character by id.
func (s *State) Character(id string) (*Character, bool) {
	c, ok := s.Characters[id]
	return c, ok && c != nil
}

// AddCharacter registers c. Ids must be unique for the session lifetime.
func (s *State) AddCharacter(c *Character) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("world: character id must not be empty")
	}
	if _, dup := s.Characters[c.ID]; dup {
		return fmt.Errorf("world: duplicate character %q", c.ID)
	}
	if s.Characters == nil {
		s.Characters = make(map[string]*Character)
	}
	if c.Emotion == "" {
		c.Emotion = EmotionNeutral
	}
	s.Characters[c.ID] = c
	return nil
}

// ── Event ───────────────────────────────────────────────────────────────────

// SetEvent installs the trigger for the next tick and resets per-tick flags.
func (s *State) SetEvent(kind EventKind, params map[string]any) {
	s.LastEvent = kind
	s.EventParams = params
	s.responded = false
	s.speaker = ""
}

// EventString returns the string event parameter key.
func (s *State) EventString(key string) string { return stringParam(s.EventParams, key) }

// EventText returns the player's utterance ("text" parameter).
func (s *State) EventText() string { return s.EventString("text") }

// ClearEvent consumes the current event.
func (s *State) ClearEvent() {
	s.LastEvent = ""
	s.EventParams = nil
}

// ClearToolAction drops the pending tool action.
func (s *State) ClearToolAction() { s.PendingToolAction = nil }

// ── Turn bookkeeping (not persisted) ────────────────────────────────────────

// SetResponse records text as the answer of this tick.
func (s *State) SetResponse(text string) {
	s.Response = text
	s.responded = true
}

// Responded reports whether a stage wrote a response since the last SetEvent.
func (s *State) Responded() bool { return s.responded }

// Speaker returns the NPC that answered this tick, if any.
func (s *State) Speaker() string { return s.speaker }

// SetSpeaker records the NPC that answered this tick.
func (s *State) SetSpeaker(id string) {
	s.speaker = id
	s.LastSpeaker = id
}

// SignalMemory schedules text for embedding into owner's store.
func (s *State) SignalMemory(owner, text string) {
	s.signal = &MemorySignal{Owner: owner, Text: text}
}

// TakeMemorySignal returns and clears the pending memory signal.
func (s *State) TakeMemorySignal() *MemorySignal {
	sig := s.signal
	s.signal = nil
	return sig
}

// PeekMemorySignal returns the pending memory signal without clearing it.
func (s *State) PeekMemorySignal() *MemorySignal { return s.signal }

// ── Quests ──────────────────────────────────────────────────────────────────

// IsActive reports whether id is an active quest.
func (s *State) IsActive(id string) bool { return slices.Contains(s.ActiveQuests, id) }

// IsCompleted reports whether id has been completed.
func (s *State) IsCompleted(id string) bool { return slices.Contains(s.CompletedQuests, id) }

// OfferQuest marks id as awaiting the player's answer.
func (s *State) OfferQuest(id string) error {
	if err := s.checkNewQuest(id); err != nil {
		return err
	}
	s.PendingQuest = id
	return nil
}

// ActivateQuest appends id to the active quests. A quest that is pending,
// active or completed is refused, which keeps the active list free of
// duplicates and completed quests out of it for good.
func (s *State) ActivateQuest(id string) error {
	if id == s.PendingQuest {
		return fmt.Errorf("world: activate %q: %w", id, ErrQuestPending)
	}
	if err := s.checkNewQuest(id); err != nil {
		return err
	}
	s.ActiveQuests = append(s.ActiveQuests, id)
	return nil
}

// CompleteQuest moves id from the active to the completed list. It reports
// false if id was not active.
func (s *State) CompleteQuest(id string) bool {
	i := slices.Index(s.ActiveQuests, id)
	if i < 0 {
		return false
	}
	s.ActiveQuests = slices.Delete(s.ActiveQuests, i, i+1)
	s.CompletedQuests = append(s.CompletedQuests, id)
	return true
}

func (s *State) checkNewQuest(id string) error {
	switch {
	case s.IsCompleted(id):
		return fmt.Errorf("world: quest %q: %w", id, ErrQuestCompleted)
	case s.IsActive(id):
		return fmt.Errorf("world: quest %q: %w", id, ErrQuestActive)
	}
	return nil
}
