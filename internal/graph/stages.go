package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/agent"
	"github.com/MrWong99/murmur/internal/dialogue"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
)

// Lines written when no NPC can answer.
const (
	NobodyAnswers = "Nobody answers."
	idleNoNPC     = "..."
)

// Placeholders in memory summaries of turns without text.
const (
	noPlayerText  = "(no player text)"
	noNPCResponse = "(no NPC response)"
)

// ── Character ───────────────────────────────────────────────────────────────

func (e *Executor) characterResponse(ctx context.Context, st *world.State) {
	log := observe.LoggerFrom(ctx, e.log)
	utterance := strings.TrimSpace(st.EventText())

	npc, ok := e.resolveNPC(st, utterance)
	if !ok {
		st.SetResponse(NobodyAnswers)
		return
	}
	st.SetSpeaker(npc.ID)

	switch {
	case utterance == "":
		st.SetResponse(dialogue.EmptyInput)
		e.metrics.RecordNPCUtterance(ctx, npc.ID)
		return
	case !e.dialogue.Available():
		st.SetResponse(dialogue.Stub(utterance))
		e.metrics.RecordNPCUtterance(ctx, npc.ID)
		return
	}

	recall := e.recallFor(ctx, st, npc, utterance)
	reply, err := e.dialogue.Respond(ctx, dialogue.SceneFor(st, npc, utterance, recall))
	if err != nil {
		log.Warn("graph: character falls back to scripted line", "npc_id", npc.ID, "err", err)
		e.metrics.RecordProviderError(ctx, "dialogue", "llm")
		st.SetResponse(dialogue.Stub(utterance))
		e.metrics.RecordNPCUtterance(ctx, npc.ID)
		return
	}

	npc.Emotion = reply.NextEmotion(npc.Emotion)
	st.SetResponse(reply.Text())
	st.PendingToolAction = reply.Action()
	e.metrics.RecordNPCUtterance(ctx, npc.ID)
	if a := st.PendingToolAction; a != nil {
		log.Debug("graph: character raised tool action", "npc_id", npc.ID, "tool", a.Type)
	}
}

// resolveNPC finds the addressed character: the npc_id parameter first,
// then a name in the utterance, then the previous speaker.
func (e *Executor) resolveNPC(st *world.State, utterance string) (*world.Character, bool) {
	if id := st.EventString("npc_id"); id != "" {
		return st.Character(id)
	}
	var aliases map[string][]string
	if a := e.aliases.Load(); a != nil {
		aliases = *a
	}
	id, err := agent.NewAddressDetector(st.CharacterIDs(), aliases).Detect(utterance, st.LastSpeaker)
	if err != nil {
		e.log.Debug("graph: no addressee", "text", utterance, "err", err)
		return nil, false
	}
	return st.Character(id)
}

// recallFor renders npc's memories relevant to utterance for the prompt.
func (e *Executor) recallFor(ctx context.Context, st *world.State, npc *world.Character, utterance string) string {
	if npc.Memory == nil {
		return dialogue.SummarizeRecall(0, nil, nil)
	}
	start := time.Now()
	recs, err := npc.Memory.Recall(ctx, utterance, st.Tick, memory.WithOptions(e.RecallOptions()))
	e.metrics.RecordRecall(ctx, time.Since(start), len(recs))
	if err != nil {
		observe.LoggerFrom(ctx, e.log).Warn("graph: recall failed", "npc_id", npc.ID, "err", err)
		if errors.Is(err, memory.ErrIndexUnavailable) {
			return dialogue.SummarizeRecall(0, nil, nil)
		}
		e.metrics.RecordProviderError(ctx, "memory", "embeddings")
	}
	return dialogue.SummarizeRecall(npc.Memory.Len(), memory.Texts(recs), err)
}

// ── Gossip and memory ───────────────────────────────────────────────────────

// gossipRelay hands the gossip message to its target: the line goes into
// the target's memory log now and into its store at memory-update.
func (e *Executor) gossipRelay(ctx context.Context, st *world.State) {
	a := st.PendingToolAction
	st.ClearToolAction()

	target, msg := a.String("target_npc"), a.String("message")
	c, ok := st.Character(target)
	if !ok || msg == "" {
		observe.LoggerFrom(ctx, e.log).Debug("graph: gossip dropped", "target_npc", target)
		return
	}
	c.Remember(msg)
	st.SignalMemory(c.ID, msg)
}

// memoryUpdate embeds a relayed gossip line into its target's store, then
// summarises the speaker's turn into the speaker's memory. It consumes the
// event either way.
func (e *Executor) memoryUpdate(ctx context.Context, st *world.State) {
	if sig := st.TakeMemorySignal(); sig != nil {
		if c, ok := st.Character(sig.Owner); ok {
			e.store(ctx, c, sig.Text, st.Tick)
		}
	}

	if c, ok := st.Character(st.Speaker()); ok && st.LastEvent != "" {
		utterance := orPlaceholder(st.EventText(), noPlayerText)
		response := orPlaceholder(st.Response, noNPCResponse)
		line := e.dialogue.Summarize(ctx, c.ID, utterance, response)
		c.Remember(line)
		e.store(ctx, c, line, st.Tick)
	}
	st.ClearEvent()
}

// store appends text to c's vector memory. Failures are logged and
// absorbed; the memory log already holds the line.
func (e *Executor) store(ctx context.Context, c *world.Character, text string, tick int64) {
	if c.Memory == nil {
		return
	}
	if _, err := c.Memory.Append(ctx, text, tick); err != nil {
		observe.LoggerFrom(ctx, e.log).Warn("graph: memory not indexed", "npc_id", c.ID, "err", err)
		e.metrics.RecordMemoryAppend(ctx, c.ID, "error")
		return
	}
	e.metrics.RecordMemoryAppend(ctx, c.ID, "ok")
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

// ── World ───────────────────────────────────────────────────────────────────

func (e *Executor) applyToolEffects(st *world.State) {
	st.ApplyEffects()
	// A move is fully handled here; leaving it in place would route the
	// tick back to this stage after the quest scan.
	if st.LastEvent == world.EventPlayerMoved {
		st.ClearEvent()
	}
}

func (e *Executor) narrativeRules(ctx context.Context, st *world.State) {
	before := len(st.QuestHistory)
	r, fired := e.narrative.Apply(st)
	if !fired {
		return
	}
	observe.LoggerFrom(ctx, e.log).Debug("graph: story beat", "rule", r.Name, "beat", st.CurrentStoryBeat)
	if len(st.QuestHistory) > before {
		e.metrics.RecordQuestTransition(ctx, "introduced")
	}
}

// ── Quests ──────────────────────────────────────────────────────────────────

func (e *Executor) questOffer(ctx context.Context, st *world.State) {
	if _, ok := e.quests.Offer(st); ok {
		e.metrics.RecordQuestTransition(ctx, "offered")
	}
}

func (e *Executor) questReply(ctx context.Context, st *world.State) {
	if st.PendingQuest == "" {
		return
	}
	if e.quests.Reply(st) {
		e.metrics.RecordQuestTransition(ctx, "accepted")
	} else {
		e.metrics.RecordQuestTransition(ctx, "declined")
	}
}

func (e *Executor) questComplete(ctx context.Context, st *world.State) {
	if _, ok := e.quests.CheckCompletion(st); ok {
		e.metrics.RecordQuestTransition(ctx, "completed")
	}
}

// dialogueFinalize makes sure the tick answers something: without a
// response so far, the addressed NPC nods silently.
func (e *Executor) dialogueFinalize(st *world.State) {
	if st.Responded() {
		return
	}
	if c, ok := st.Character(st.EventString("npc_id")); ok {
		st.SetResponse(c.ID + " nods silently.")
		return
	}
	st.SetResponse(idleNoNPC)
}
