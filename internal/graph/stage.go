package graph

import "fmt"

// Stage is one node of the simulation graph.
type Stage int

// The stages of the graph. StageEnd terminates a tick.
const (
	StageEnd Stage = iota
	StageRouterEntry
	StageQuestOffer
	StageQuestReply
	StageQuestComplete
	StageCharacterResponse
	StageGossipRelay
	StageApplyToolEffects
	StageMemoryUpdate
	StageWorldClock
	StageNarrativeRules
	StageQuestRegistryScan
	StageDialogueFinalize
	StageClearEvent
)

var stageNames = [...]string{
	StageEnd:               "END",
	StageRouterEntry:       "router-entry",
	StageQuestOffer:        "quest-offer",
	StageQuestReply:        "quest-reply",
	StageQuestComplete:     "quest-complete",
	StageCharacterResponse: "character-response",
	StageGossipRelay:       "gossip-relay",
	StageApplyToolEffects:  "apply-tool-effects",
	StageMemoryUpdate:      "memory-update",
	StageWorldClock:        "world-clock",
	StageNarrativeRules:    "narrative-rules",
	StageQuestRegistryScan: "quest-registry-scan",
	StageDialogueFinalize:  "dialogue-finalize",
	StageClearEvent:        "clear-event",
}

// String returns the kebab-case stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText encodes the stage by name, so traces serialise readably.
func (s Stage) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stageNames) {
		return nil, fmt.Errorf("graph: unknown stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("graph: unknown stage %q", b)
}
