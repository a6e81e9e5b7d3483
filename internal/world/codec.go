package world

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encode writes the JSON form of s to w. Memory stores are not part of it.
func (s *State) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("world: encode: %w", err)
	}
	return nil
}

// Decode reads a state written by Encode. Missing collections are filled in,
// the derived clock fields are recomputed from the tick and the result is
// validated. Characters come back without memory stores.
func Decode(r io.Reader) (*State, error) {
	var s State
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("world: decode: %w", err)
	}
	if s.Characters == nil {
		s.Characters = map[string]*Character{}
	}
	if s.WorldChunks == nil {
		s.WorldChunks = DefaultChunks()
	}
	for _, c := range s.Characters {
		if c != nil && c.Emotion == "" {
			c.Emotion = EmotionNeutral
		}
	}
	s.PlayerInventory = orEmpty(s.PlayerInventory)
	s.ActiveQuests = orEmpty(s.ActiveQuests)
	s.CompletedQuests = orEmpty(s.CompletedQuests)
	s.QuestHistory = orEmpty(s.QuestHistory)
	s.syncClock()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
