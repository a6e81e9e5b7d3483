// Package graph runs one simulation tick: it threads a world.State through
// the stage graph, starting at the router and stopping at END.
//
// The graph is cyclic (clear-event loops back to the router), so every tick
// is bounded by a step cap. Exceeding it means the state reached a
// combination no route consumes, and Tick fails with ErrRoutingDeadEnd.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/dialogue"
	"github.com/MrWong99/murmur/internal/narrative"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/quest"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
)

// ErrRoutingDeadEnd is returned by Tick when a tick exceeds the step cap.
var ErrRoutingDeadEnd = errors.New("graph: routing dead end")

// DefaultMaxSteps is the default per-tick step cap.
const DefaultMaxSteps = 64

// Result describes one finished tick.
type Result struct {
	// Trace lists the visited stages in order, END excluded.
	Trace []Stage `json:"trace"`

	// Response is the text answered to the player this tick, if any.
	Response string `json:"response"`
}

// Executor runs ticks. It holds no per-session state and is safe for
// concurrent use on distinct world states.
type Executor struct {
	quests    *quest.Machine
	narrative *narrative.Engine
	dialogue  *dialogue.Service
	aliases   atomic.Pointer[map[string][]string]
	maxSteps  int
	recall    atomic.Pointer[memory.RecallOptions]
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithQuests sets the quest state machine.
func WithQuests(m *quest.Machine) Option {
	return func(e *Executor) { e.quests = m }
}

// WithNarrative sets the narrative rule engine.
func WithNarrative(n *narrative.Engine) Option {
	return func(e *Executor) { e.narrative = n }
}

// WithDialogue sets the dialogue service. Without one every NPC answers
// with scripted lines.
func WithDialogue(d *dialogue.Service) Option {
	return func(e *Executor) { e.dialogue = d }
}

// WithAliases adds extra names players may address NPCs by.
func WithAliases(aliases map[string][]string) Option {
	return func(e *Executor) { e.aliases.Store(&aliases) }
}

// WithMaxSteps overrides DefaultMaxSteps. Non-positive values are ignored.
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithRecallOptions sets the initial memory recall tuning.
func WithRecallOptions(o memory.RecallOptions) Option {
	return func(e *Executor) { e.recall.Store(&o) }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New returns an Executor. Missing collaborators get neutral defaults: an
// empty quest registry, the default narrative rules and a dialogue service
// without a model.
func New(opts ...Option) *Executor {
	e := &Executor{maxSteps: DefaultMaxSteps, log: slog.Default()}
	e.recall.Store(&memory.RecallOptions{
		K:         memory.DefaultK,
		TopN:      memory.DefaultTopN,
		DecayRate: memory.DefaultDecayRate,
	})
	for _, o := range opts {
		o(e)
	}
	if e.quests == nil {
		e.quests = quest.NewMachine(nil, e.log)
	}
	if e.narrative == nil {
		// The default rule set always validates.
		e.narrative, _ = narrative.NewEngine(narrative.DefaultRules(), narrative.WithLogger(e.log))
	}
	if e.dialogue == nil {
		e.dialogue = dialogue.New(nil, dialogue.WithLogger(e.log))
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// SetRecallOptions replaces the recall tuning used by later ticks. It is
// safe to call while ticks are running.
func (e *Executor) SetRecallOptions(o memory.RecallOptions) { e.recall.Store(&o) }

// SetAliases replaces the extra NPC names used by later ticks.
func (e *Executor) SetAliases(aliases map[string][]string) { e.aliases.Store(&aliases) }

// RecallOptions returns the current recall tuning.
func (e *Executor) RecallOptions() memory.RecallOptions { return *e.recall.Load() }

// Quests returns the quest machine.
func (e *Executor) Quests() *quest.Machine { return e.quests }

// Tick runs the graph on st until END. The caller installs the event with
// st.SetEvent beforehand. The previous response is cleared first, so after
// Tick st.Response holds only what this tick answered.
func (e *Executor) Tick(ctx context.Context, st *world.State) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "tick",
		trace.WithAttributes(observe.AttrTick.Int64(st.Tick)))
	defer span.End()
	log := observe.LoggerFrom(ctx, e.log)

	st.Response = ""
	var res Result
	for stage := StageRouterEntry; stage != StageEnd; stage = Next(stage, st) {
		if len(res.Trace) >= e.maxSteps {
			err := fmt.Errorf("%w: %d steps without reaching END, stuck at %s (event %q, tool action %v)",
				ErrRoutingDeadEnd, e.maxSteps, stage, st.LastEvent, st.PendingToolAction)
			log.Error("graph: tick aborted", "err", err, "trace", res.Trace)
			e.metrics.RecordDeadEnd(ctx)
			e.metrics.RecordTick(ctx, "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "routing dead end")
			return res, err
		}
		if err := ctx.Err(); err != nil {
			e.metrics.RecordTick(ctx, "error")
			return res, fmt.Errorf("graph: tick interrupted at %s: %w", stage, err)
		}

		res.Trace = append(res.Trace, stage)
		start := time.Now()
		sctx, sspan := observe.StartStage(ctx, stage.String(), st.Tick)
		e.run(sctx, stage, st)
		sspan.End()
		e.metrics.RecordStage(ctx, stage.String(), time.Since(start))
	}

	// Route consumes every tool type it knows, so whatever is left at END
	// has no handler and must not leak into the next tick.
	if a := st.PendingToolAction; a != nil {
		log.Debug("graph: unhandled tool action dropped", "tool", a.Type)
		st.ClearToolAction()
	}

	res.Response = st.Response
	e.metrics.RecordTick(ctx, "ok")
	log.Debug("graph: tick done", "tick", st.Tick, "steps", len(res.Trace), "responded", st.Responded())
	return res, nil
}

func (e *Executor) run(ctx context.Context, stage Stage, st *world.State) {
	switch stage {
	case StageRouterEntry:
		// Routing only.
	case StageQuestOffer:
		e.questOffer(ctx, st)
	case StageQuestReply:
		e.questReply(ctx, st)
	case StageQuestComplete:
		e.questComplete(ctx, st)
	case StageCharacterResponse:
		e.characterResponse(ctx, st)
	case StageGossipRelay:
		e.gossipRelay(ctx, st)
	case StageApplyToolEffects:
		e.applyToolEffects(st)
	case StageMemoryUpdate:
		e.memoryUpdate(ctx, st)
	case StageWorldClock:
		st.AdvanceClock()
	case StageNarrativeRules:
		e.narrativeRules(ctx, st)
	case StageQuestRegistryScan:
		e.quests.Scan(st)
	case StageDialogueFinalize:
		e.dialogueFinalize(st)
	case StageClearEvent:
		st.ClearEvent()
		st.ClearToolAction()
		st.TakeMemorySignal()
	}
}
