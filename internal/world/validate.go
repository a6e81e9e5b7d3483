package world

import (
	"errors"
	"fmt"
)

// Validate checks the quest invariants and character bookkeeping of a state,
// typically one just decoded from a savegame. All problems are reported.
func (s *State) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(s.ActiveQuests))
	for _, q := range s.ActiveQuests {
		if seen[q] {
			errs = append(errs, fmt.Errorf("active quest %q listed twice", q))
		}
		seen[q] = true
		if s.IsCompleted(q) {
			errs = append(errs, fmt.Errorf("quest %q is both active and completed", q))
		}
	}
	if s.PendingQuest != "" && seen[s.PendingQuest] {
		errs = append(errs, fmt.Errorf("quest %q is both pending and active", s.PendingQuest))
	}
	for id, c := range s.Characters {
		switch {
		case c == nil:
			errs = append(errs, fmt.Errorf("character %q is empty", id))
		case c.ID != id:
			errs = append(errs, fmt.Errorf("character key %q holds id %q", id, c.ID))
		}
	}
	if s.Tick < 0 {
		errs = append(errs, fmt.Errorf("negative tick %d", s.Tick))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("world: invalid state: %w", err)
	}
	return nil
}
