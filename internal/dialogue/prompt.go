package dialogue

import (
	"fmt"
	"strings"

	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// Recall summary sentinels shown to the model in place of memories.
const (
	RecallFirstMeeting = "This is the first time we are meeting, or no specific memories were recalled."
	RecallIrrelevant   = "I have some memories, but none seem directly relevant to your statement."
	RecallHazy         = "My memory is a bit hazy right now."
)

// Sampling parameters of the two model calls.
const (
	characterTemperature = 0.75
	characterMaxTokens   = 200
	summaryTemperature   = 0.5
	summaryMaxTokens     = 60
)

// SummarizeRecall renders recalled memory texts for the prompt. stored is
// the number of memories the character has; err is the recall error, if any.
func SummarizeRecall(stored int, texts []string, err error) string {
	switch {
	case err != nil:
		return RecallHazy
	case stored == 0:
		return RecallFirstMeeting
	case len(texts) == 0:
		return RecallIrrelevant
	}
	var b strings.Builder
	b.WriteString("Relevant recent memories based on your statement:")
	for i, t := range texts {
		fmt.Fprintf(&b, "\n  Memory %d: %s", i+1, t)
	}
	return b.String()
}

// Scene is everything the character prompt is built from.
type Scene struct {
	NPC       *world.Character
	Utterance string
	Recall    string
	Guidance  string
	TimeOfDay world.TimeOfDay
	Weather   string
	Location  string
}

// SceneFor assembles a scene for npc from the world state.
func SceneFor(st *world.State, npc *world.Character, utterance, recall string) Scene {
	return Scene{
		NPC:       npc,
		Utterance: utterance,
		Recall:    recall,
		Guidance:  st.NarrativeGuidance,
		TimeOfDay: st.TimeOfDay,
		Weather:   st.Weather,
		Location:  st.Location,
	}
}

func emotionList() string {
	names := make([]string, len(world.Emotions))
	for i, e := range world.Emotions {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

// CharacterRequest builds the completion request that asks the model to
// answer as the scene's NPC in reply JSON.
func CharacterRequest(sc Scene) llm.CompletionRequest {
	inventory := "nothing of note"
	if len(sc.NPC.Inventory) > 0 {
		inventory = strings.Join(sc.NPC.Inventory, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the NPC '%s', with personality: %s. ", sc.NPC.ID, sc.NPC.Personality)
	fmt.Fprintf(&b, "You currently feel: %s. ", sc.NPC.Emotion)
	fmt.Fprintf(&b, "Your inventory: %s.\n", inventory)
	if sc.TimeOfDay != "" {
		fmt.Fprintf(&b, "It is %s, the weather is %s, and you are at %s.\n", strings.ToLower(string(sc.TimeOfDay)), strings.ToLower(sc.Weather), sc.Location)
	}
	if sc.Guidance != "" {
		fmt.Fprintf(&b, "Story direction: %s\n", sc.Guidance)
	}
	b.WriteString(sc.Recall)
	b.WriteString("\n\nWhen the player speaks, return ONLY valid JSON with three keys:\n")
	b.WriteString("{\n")
	b.WriteString(`  "response": "<your spoken reply in character>",` + "\n")
	fmt.Fprintf(&b, `  "emotion_state": "<one of: %s>",`+"\n", emotionList())
	b.WriteString(`  "tool_action": {"type": "<action_name>", "params": {...}} or null` + "\n")
	b.WriteString("}\n")
	b.WriteString("Available actions: offer_quest {quest_id}, gossip {target_npc, message}, give_item {item_id}, ")
	b.WriteString("give_gold {amount}, open_gate {}, repair_item {item_id}.\n")
	b.WriteString("Answer only with that JSON and no extra text.")

	return llm.CompletionRequest{
		SystemPrompt: b.String(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf("The player says: %q", sc.Utterance)}},
		Temperature:  characterTemperature,
		MaxTokens:    characterMaxTokens,
		JSON:         true,
	}
}

// SummaryRequest builds the request that condenses one exchange into a
// single memory sentence.
func SummaryRequest(npcID, utterance, response string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are a memory module for NPC '%s'. Summarize this interaction into one concise sentence, starting with '%s remembers that...'.", npcID, npcID),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Player said: %q\n%s responded: %q\n\nSummarize as:", utterance, npcID, response),
		}},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	}
}

// FallbackSummary is the deterministic memory line used without a model.
func FallbackSummary(npcID, utterance, response string) string {
	return fmt.Sprintf("%s remembers that the player said '%s', and %s replied '%s'.", npcID, utterance, npcID, response)
}
