package graph

import "github.com/MrWong99/murmur/internal/world"

// Route is the event router. It picks the stage that handles the current
// event, tool action and quest status; the first matching rule wins:
//
//  1. offer_quest tool action              → quest-offer
//  2. pending quest and player_chat        → quest-reply
//  3. player_chat with active quests       → quest-complete
//  4. player_chat or player_near_npc       → character-response
//  5. gossip tool action                   → gossip-relay
//  6. player_moved or an effect tool       → apply-tool-effects
//  7. otherwise                            → END
//
// Route never modifies st.
func Route(st *world.State) Stage {
	ta := st.PendingToolAction
	ev := st.LastEvent

	switch {
	case ta.Is(world.ToolOfferQuest):
		return StageQuestOffer
	case st.PendingQuest != "" && ev == world.EventPlayerChat:
		return StageQuestReply
	case ev == world.EventPlayerChat && len(st.ActiveQuests) > 0:
		return StageQuestComplete
	case ev == world.EventPlayerChat || ev == world.EventPlayerNearNPC:
		return StageCharacterResponse
	case ta.Is(world.ToolGossip):
		return StageGossipRelay
	case ev == world.EventPlayerMoved || (ta != nil && ta.Type.IsEffect()):
		return StageApplyToolEffects
	}
	return StageEnd
}

// AfterCharacter routes out of character-response: a gossip action goes to
// the relay, everything else to memory-update.
func AfterCharacter(st *world.State) Stage {
	if st.PendingToolAction.Is(world.ToolGossip) {
		return StageGossipRelay
	}
	return StageMemoryUpdate
}

// Next is the transition function of the graph.
func Next(from Stage, st *world.State) Stage {
	switch from {
	case StageRouterEntry, StageQuestRegistryScan:
		return Route(st)
	case StageCharacterResponse:
		return AfterCharacter(st)
	case StageGossipRelay:
		return StageMemoryUpdate
	case StageMemoryUpdate, StageApplyToolEffects:
		return StageWorldClock
	case StageWorldClock:
		return StageNarrativeRules
	case StageNarrativeRules:
		return StageQuestRegistryScan
	case StageQuestComplete:
		return StageDialogueFinalize
	case StageDialogueFinalize, StageQuestOffer, StageQuestReply:
		return StageClearEvent
	case StageClearEvent:
		return StageRouterEntry
	}
	return StageEnd
}
