// Package quest implements the quest registry and the quest life-cycle:
// discovery from NPC memories, the yes/no offer, acceptance and completion.
//
// Life-cycle of a quest id:
//
//	(unseen) --Scan--> pending --Reply yes--> active --CheckCompletion--> completed
//	                      \--Reply no--> (unseen)
package quest

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/murmur/internal/world"
)

// Default texts used when the registry entry leaves them empty or the quest
// is unknown.
const (
	DefaultAcceptText   = "Great, thank you!"
	DefaultDeclineText  = "No worries."
	DefaultCompleteText = "Quest completed!"

	offerSuffix = "(yes/no?)"
)

// Machine drives quest state transitions on a world.State.
type Machine struct {
	reg *Registry
	log *slog.Logger
}

// NewMachine returns a machine over reg. A nil registry behaves as empty.
func NewMachine(reg *Registry, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{reg: reg, log: log}
}

// Registry returns the registry the machine reads from.
func (m *Machine) Registry() *Registry { return m.reg }

// Scan looks for a quest worth offering. It only runs while no quest is
// pending and no registry quest is active. Quests are tried in registry
// order against every character's memory log (characters in id order); the
// first match becomes the pending quest and an offer_quest tool action.
func (m *Machine) Scan(st *world.State) (string, bool) {
	if st.PendingQuest != "" {
		return "", false
	}
	for _, q := range m.reg.Quests() {
		if st.IsActive(q.ID) {
			return "", false
		}
	}

	for _, q := range m.reg.Quests() {
		if st.IsCompleted(q.ID) {
			continue
		}
		for _, id := range st.CharacterIDs() {
			c, _ := st.Character(id)
			for _, line := range c.MemoryLog {
				if !q.Matches(line) {
					continue
				}
				if err := st.OfferQuest(q.ID); err != nil {
					m.log.Warn("quest: scan match refused", "quest_id", q.ID, "err", err)
					continue
				}
				st.PendingToolAction = &world.ToolAction{
					Type:   world.ToolOfferQuest,
					Params: map[string]any{"quest_id": q.ID},
				}
				m.log.Debug("quest: offering", "quest_id", q.ID, "npc_id", id)
				return q.ID, true
			}
		}
	}
	return "", false
}

// Offer speaks the offer text of the pending quest and clears the
// offer_quest action. An action raised outside Scan (for example by an NPC
// reply) first marks its quest pending. The action is dropped without an
// offer when it names a quest other than the pending one, or a quest that
// cannot be offered because it is active or completed; Offer then reports
// false and leaves the response alone.
func (m *Machine) Offer(st *world.State) (string, bool) {
	id := st.PendingToolAction.String("quest_id")
	st.ClearToolAction()

	switch {
	case st.PendingQuest != "":
		if id != "" && id != st.PendingQuest {
			m.log.Info("quest: offer dropped, another quest awaits an answer",
				"quest_id", id, "pending_quest", st.PendingQuest)
			return "", false
		}
		id = st.PendingQuest
	case id == "":
		m.log.Warn("quest: offer without a quest id")
		return "", false
	default:
		if err := st.OfferQuest(id); err != nil {
			m.log.Info("quest: offer dropped", "quest_id", id, "err", err)
			return "", false
		}
	}

	text := offerSuffix
	q, err := m.reg.Lookup(id)
	if err != nil {
		m.log.Warn("quest: offer for unknown quest", "quest_id", id, "err", err)
	} else if q.OfferText != "" {
		text = q.OfferText + " " + offerSuffix
	}
	st.SetResponse(text)
	return text, true
}

// Reply consumes the player's answer to a pending offer. "yes" or "y"
// (case-insensitive, trimmed) accepts; anything else declines. Without a
// pending quest Reply is a no-op and reports false.
func (m *Machine) Reply(st *world.State) (accepted bool) {
	id := st.PendingQuest
	if id == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(st.EventText()))
	q, err := m.reg.Lookup(id)
	if err != nil && !errors.Is(err, ErrRegistryMiss) {
		m.log.Error("quest: lookup", "quest_id", id, "err", err)
	}

	st.PendingQuest = ""
	st.ClearEvent()

	if answer == "yes" || answer == "y" {
		if err := st.ActivateQuest(id); err != nil {
			m.log.Warn("quest: accept refused", "quest_id", id, "err", err)
		}
		st.SetResponse(orDefault(q.AcceptText, DefaultAcceptText))
		return true
	}
	st.SetResponse(orDefault(q.DeclineText, DefaultDeclineText))
	return false
}

// CheckCompletion completes at most one active quest whose completion
// triggers match the player's chat text.
func (m *Machine) CheckCompletion(st *world.State) (string, bool) {
	text := st.EventText()
	if st.LastEvent != world.EventPlayerChat || text == "" {
		return "", false
	}
	for _, id := range append([]string(nil), st.ActiveQuests...) {
		q, err := m.reg.Lookup(id)
		if err != nil || !q.Completes(text) {
			continue
		}
		st.CompleteQuest(id)
		st.SetResponse(orDefault(q.CompleteText, DefaultCompleteText))
		st.ClearEvent()
		m.log.Info("quest: completed", "quest_id", id)
		return id, true
	}
	return "", false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
