package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/murmur/internal/graph"
	"github.com/MrWong99/murmur/internal/world"
)

func tool(t world.ToolType) *world.ToolAction {
	return &world.ToolAction{Type: t, Params: map[string]any{}}
}

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		event   world.EventKind
		tool    *world.ToolAction
		pending string
		active  []string
		want    graph.Stage
	}{
		{name: "chat goes to character", event: world.EventPlayerChat, want: graph.StageCharacterResponse},
		{name: "pending quest answers before character", event: world.EventPlayerChat, pending: "find_lost_tome", want: graph.StageQuestReply},
		{name: "offer beats everything", event: world.EventPlayerChat, pending: "x", tool: tool(world.ToolOfferQuest), want: graph.StageQuestOffer},
		{name: "chat with active quest checks completion", event: world.EventPlayerChat, active: []string{"find_rare_spices"}, want: graph.StageQuestComplete},
		{name: "pending beats completion", event: world.EventPlayerChat, pending: "a", active: []string{"b"}, want: graph.StageQuestReply},
		{name: "near npc goes to character", event: world.EventPlayerNearNPC, want: graph.StageCharacterResponse},
		{name: "near npc ignores pending quest", event: world.EventPlayerNearNPC, pending: "a", want: graph.StageCharacterResponse},
		{name: "gossip without event", tool: tool(world.ToolGossip), want: graph.StageGossipRelay},
		{name: "chat beats gossip", event: world.EventPlayerChat, tool: tool(world.ToolGossip), want: graph.StageCharacterResponse},
		{name: "move", event: world.EventPlayerMoved, want: graph.StageApplyToolEffects},
		{name: "give item", tool: tool(world.ToolGiveItem), want: graph.StageApplyToolEffects},
		{name: "give gold", tool: tool(world.ToolGiveGold), want: graph.StageApplyToolEffects},
		{name: "open gate", tool: tool(world.ToolOpenGate), want: graph.StageApplyToolEffects},
		{name: "repair item", tool: tool(world.ToolRepairItem), want: graph.StageApplyToolEffects},
		{name: "gossip beats move", event: world.EventPlayerMoved, tool: tool(world.ToolGossip), want: graph.StageGossipRelay},
		{name: "unknown tool ends", tool: tool("summon_dragon"), want: graph.StageEnd},
		{name: "unknown event ends", event: "weather_changed", want: graph.StageEnd},
		{name: "nothing ends", want: graph.StageEnd},
		{name: "pending quest alone ends", pending: "a", want: graph.StageEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := &world.State{
				LastEvent:         tt.event,
				PendingToolAction: tt.tool,
				PendingQuest:      tt.pending,
				ActiveQuests:      tt.active,
			}
			if got := graph.Route(st); got != tt.want {
				t.Errorf("Route = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	t.Parallel()

	st, err := world.New(nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	st.SetEvent(world.EventPlayerChat, map[string]any{"npc_id": "malrik_merchant", "text": "hi"})
	st.PendingQuest = "find_rare_spices"
	st.PendingToolAction = &world.ToolAction{Type: world.ToolGiveGold, Params: map[string]any{"amount": 5}}

	before, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	first := graph.Route(st)
	second := graph.Route(st)
	after, _ := json.Marshal(st)

	if first != second {
		t.Errorf("Route not idempotent: %s then %s", first, second)
	}
	if string(before) != string(after) {
		t.Errorf("Route mutated state:\nbefore %s\nafter  %s", before, after)
	}
}

func TestAfterCharacter(t *testing.T) {
	t.Parallel()

	if got := graph.AfterCharacter(&world.State{PendingToolAction: tool(world.ToolGossip)}); got != graph.StageGossipRelay {
		t.Errorf("gossip: AfterCharacter = %s, want gossip-relay", got)
	}
	for _, ta := range []*world.ToolAction{nil, tool(world.ToolGiveGold), tool(world.ToolOfferQuest)} {
		if got := graph.AfterCharacter(&world.State{PendingToolAction: ta}); got != graph.StageMemoryUpdate {
			t.Errorf("%v: AfterCharacter = %s, want memory-update", ta, got)
		}
	}
}

func TestNext_FixedEdges(t *testing.T) {
	t.Parallel()

	// A state that Route would send somewhere else, to show the fixed
	// edges ignore it.
	st := &world.State{LastEvent: world.EventPlayerChat}

	edges := map[graph.Stage]graph.Stage{
		graph.StageMemoryUpdate:      graph.StageWorldClock,
		graph.StageWorldClock:        graph.StageNarrativeRules,
		graph.StageNarrativeRules:    graph.StageQuestRegistryScan,
		graph.StageQuestComplete:     graph.StageDialogueFinalize,
		graph.StageDialogueFinalize:  graph.StageClearEvent,
		graph.StageClearEvent:        graph.StageRouterEntry,
		graph.StageGossipRelay:       graph.StageMemoryUpdate,
		graph.StageApplyToolEffects:  graph.StageWorldClock,
		graph.StageQuestOffer:        graph.StageClearEvent,
		graph.StageQuestReply:        graph.StageClearEvent,
		graph.StageRouterEntry:       graph.StageCharacterResponse,
		graph.StageQuestRegistryScan: graph.StageCharacterResponse,
		graph.StageCharacterResponse: graph.StageMemoryUpdate,
		graph.StageEnd:               graph.StageEnd,
	}
	for from, want := range edges {
		if got := graph.Next(from, st); got != want {
			t.Errorf("Next(%s) = %s, want %s", from, got, want)
		}
	}
}

func TestStage_Text(t *testing.T) {
	t.Parallel()

	trace := []graph.Stage{graph.StageRouterEntry, graph.StageQuestReply, graph.StageClearEvent}
	b, err := json.Marshal(trace)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `["router-entry","quest-reply","clear-event"]`; string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}

	var back []graph.Stage
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back) != 3 || back[1] != graph.StageQuestReply {
		t.Errorf("Unmarshal = %v", back)
	}
	if err := json.Unmarshal([]byte(`["teleport"]`), &back); err == nil {
		t.Error("Unmarshal unknown stage: want error")
	}
	if got := graph.Stage(99).String(); got != "Stage(99)" {
		t.Errorf("String = %q", got)
	}
}
