package world

import (
	"log/slog"
	"slices"
)

// ApplyEffects executes the player-facing consequences of the current event
// and tool action, then drops the tool action.
//
//   - player_moved: moves the player if new_location is a known chunk.
//   - give_item: adds item_id to the player's inventory.
//   - give_gold: adds amount to the player's gold.
//   - open_gate: opens the gate.
//   - repair_item: replaces a held item_id with repaired_<item_id>.
func (s *State) ApplyEffects() {
	defer s.ClearToolAction()

	if s.LastEvent == EventPlayerMoved {
		dest := s.EventString("new_location")
		if _, known := s.WorldChunks[dest]; known {
			s.PlayerLocation = dest
		} else {
			slog.Debug("world: ignoring move to unknown location", "location", dest)
		}
	}

	a := s.PendingToolAction
	if a == nil {
		return
	}
	switch a.Type {
	case ToolGiveItem:
		if item := a.String("item_id"); item != "" {
			s.PlayerInventory = append(s.PlayerInventory, item)
		}
	case ToolGiveGold:
		if amount, ok := intParam(a.Params, "amount"); ok {
			s.PlayerStats.Gold += amount
		}
	case ToolOpenGate:
		s.PlayerStats.GateOpen = true
	case ToolRepairItem:
		item := a.String("item_id")
		if i := slices.Index(s.PlayerInventory, item); item != "" && i >= 0 {
			s.PlayerInventory = slices.Delete(s.PlayerInventory, i, i+1)
			s.PlayerInventory = append(s.PlayerInventory, "repaired_"+item)
		}
	}
}
