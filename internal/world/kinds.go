package world

import "strings"

// EventKind names the trigger of a tick. Unknown kinds are accepted and
// carried through unchanged; the router sends them to END unless a tool
// action applies.
type EventKind string

// Events the router understands.
const (
	EventPlayerChat    EventKind = "player_chat"
	EventPlayerNearNPC EventKind = "player_near_npc"
	EventPlayerMoved   EventKind = "player_moved"
)

// ToolType names the side effect an NPC reply or quest scan requested.
type ToolType string

// Tool actions the router understands. Other strings are kept opaque.
const (
	ToolOfferQuest ToolType = "offer_quest"
	ToolGossip     ToolType = "gossip"
	ToolGiveItem   ToolType = "give_item"
	ToolGiveGold   ToolType = "give_gold"
	ToolOpenGate   ToolType = "open_gate"
	ToolRepairItem ToolType = "repair_item"
)

// IsEffect reports whether t is applied by the tool-effects stage.
func (t ToolType) IsEffect() bool {
	switch t {
	case ToolGiveItem, ToolGiveGold, ToolOpenGate, ToolRepairItem:
		return true
	}
	return false
}

// ToolAction is a pending side effect.
type ToolAction struct {
	Type   ToolType       `json:"type"`
	Params map[string]any `json:"params"`
}

// Is reports whether a is non-nil and of type t.
func (a *ToolAction) Is(t ToolType) bool { return a != nil && a.Type == t }

// String returns the string parameter key, or "" when absent or not a string.
func (a *ToolAction) String(key string) string {
	if a == nil {
		return ""
	}
	return stringParam(a.Params, key)
}

// Emotion is an NPC's mood. The zero value is not valid; use EmotionNeutral.
type Emotion string

// Known emotions.
const (
	EmotionNeutral  Emotion = "neutral"
	EmotionHappy    Emotion = "happy"
	EmotionSad      Emotion = "sad"
	EmotionAngry    Emotion = "angry"
	EmotionAnnoyed  Emotion = "annoyed"
	EmotionExcited  Emotion = "excited"
	EmotionConfused Emotion = "confused"
	EmotionCurious  Emotion = "curious"
)

// Emotions lists every valid emotion.
var Emotions = []Emotion{
	EmotionAngry, EmotionAnnoyed, EmotionNeutral, EmotionHappy,
	EmotionSad, EmotionExcited, EmotionConfused, EmotionCurious,
}

// ParseEmotion maps s case-insensitively onto a known emotion.
func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Emotions {
		if e == known {
			return e, true
		}
	}
	return "", false
}

// TimeOfDay buckets the 24-tick day.
type TimeOfDay string

// Day phases.
const (
	Night     TimeOfDay = "Night"
	Morning   TimeOfDay = "Morning"
	Afternoon TimeOfDay = "Afternoon"
	Evening   TimeOfDay = "Evening"
)

func stringParam(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intParam accepts the numeric shapes JSON decoding and Go callers produce.
func intParam(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}
