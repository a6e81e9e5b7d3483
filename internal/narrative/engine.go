// Package narrative injects story beats into the world. After every clock
// tick the engine evaluates an ordered rule list; the first rule whose
// predicate holds sets the story beat and guidance for NPC prompts and may
// introduce a quest. A cooldown keeps beats from firing on consecutive ticks.
package narrative

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/murmur/internal/world"
)

// DefaultCooldown is the number of ticks skipped after a rule fires.
const DefaultCooldown = 3

// ErrFieldAbsent is returned by predicates whose input field is unset. The
// engine skips such rules instead of treating them as false.
var ErrFieldAbsent = errors.New("narrative: field absent")

// Predicate decides whether a rule applies to the current world.
type Predicate func(st *world.State) (bool, error)

// Rule is one entry of the ordered rule list. A rule with a nil When always
// applies and must be the last rule.
type Rule struct {
	Name     string
	Beat     string
	Guidance string
	QuestID  string
	When     Predicate
}

// Engine evaluates rules against world states. It is stateless apart from
// its configuration; all progress lives on the state.
type Engine struct {
	rules    []Rule
	cooldown int
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(n int) Option {
	return func(e *Engine) { e.cooldown = n }
}

// WithLogger sets the logger used for rule diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine validates rules and returns an engine. Exactly one fallback rule
// (nil When) is required and it must come last.
func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("narrative: no rules")
	}
	var errs []error
	for i, r := range rules {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("rule %d: empty name", i))
		}
		if r.When == nil && i != len(rules)-1 {
			errs = append(errs, fmt.Errorf("rule %q: fallback rule must be last", r.Name))
		}
	}
	if rules[len(rules)-1].When != nil {
		errs = append(errs, fmt.Errorf("last rule %q must be a fallback without condition", rules[len(rules)-1].Name))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("narrative: invalid rules: %w", err)
	}

	e := &Engine{
		rules:    append([]Rule(nil), rules...),
		cooldown: DefaultCooldown,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Rules returns the configured rules in evaluation order.
func (e *Engine) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// Apply runs one narrative step on st. While the cooldown is positive it
// only counts down and clears the guidance. Otherwise the first applicable
// rule is applied and returned.
func (e *Engine) Apply(st *world.State) (Rule, bool) {
	if st.NarrativeCooldown > 0 {
		st.NarrativeCooldown--
		st.NarrativeGuidance = ""
		return Rule{}, false
	}

	for _, r := range e.rules {
		if r.When != nil {
			ok, err := r.When(st)
			if err != nil {
				e.log.Debug("narrative: rule skipped", "rule", r.Name, "err", err)
				continue
			}
			if !ok {
				continue
			}
		}
		e.fire(st, r)
		return r, true
	}
	// Unreachable with a validated rule set.
	return Rule{}, false
}

func (e *Engine) fire(st *world.State, r Rule) {
	st.CurrentStoryBeat = r.Beat
	st.NarrativeGuidance = r.Guidance
	st.NarrativeCooldown = e.cooldown

	if r.QuestID == "" || r.QuestID == st.PendingQuest {
		return
	}
	if err := st.ActivateQuest(r.QuestID); err != nil {
		e.log.Debug("narrative: quest not introduced", "rule", r.Name, "quest_id", r.QuestID, "err", err)
		return
	}
	st.QuestHistory = append(st.QuestHistory, r.QuestID)
	e.log.Info("narrative: quest introduced", "rule", r.Name, "quest_id", r.QuestID)
}
