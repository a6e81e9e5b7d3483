package narrative

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/internal/world"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "curfew_warning",
			Beat:     "curfew_warning",
			Guidance: "The town guard is about to lock the gates. NPCs are uneasy. Mention the nighttime curfew.",
			QuestID:  "warn_venue_before_curfew",
			When: All(
				TimeOfDayIs(world.Night),
				LocationContains("Town Square"),
			),
		},
		{
			Name:     "festival_celebration",
			Beat:     "festival_celebration",
			Guidance: "The Harvest Festival is in full swing. NPCs are celebrating around the bonfire, ask them for rumors.",
			QuestID:  "gather_festival_supplies",
			When:     CurrentEventIs("harvest_festival"),
		},
		{
			Name: "nothing_special",
			Beat: "nothing_special",
		},
	}
}

// ── Predicates ──────────────────────────────────────────────────────────────

// TimeOfDayIs holds when the day phase equals tod.
func TimeOfDayIs(tod world.TimeOfDay) Predicate {
	return func(st *world.State) (bool, error) {
		if st.TimeOfDay == "" {
			return false, fmt.Errorf("time_of_day: %w", ErrFieldAbsent)
		}
		return strings.EqualFold(string(st.TimeOfDay), string(tod)), nil
	}
}

// LocationContains holds when the clock location contains sub.
func LocationContains(sub string) Predicate {
	return func(st *world.State) (bool, error) {
		if st.Location == "" {
			return false, fmt.Errorf("location: %w", ErrFieldAbsent)
		}
		return strings.Contains(st.Location, sub), nil
	}
}

// CurrentEventIs holds when the world event equals name.
func CurrentEventIs(name string) Predicate {
	return func(st *world.State) (bool, error) {
		if st.CurrentEvent == "" {
			return false, fmt.Errorf("current_event: %w", ErrFieldAbsent)
		}
		return st.CurrentEvent == name, nil
	}
}

// WeatherIs holds when the weather equals w (case-insensitive).
func WeatherIs(w string) Predicate {
	return func(st *world.State) (bool, error) {
		if st.Weather == "" {
			return false, fmt.Errorf("weather: %w", ErrFieldAbsent)
		}
		return strings.EqualFold(st.Weather, w), nil
	}
}

// MinTick holds once the world clock reached tick.
func MinTick(tick int64) Predicate {
	return func(st *world.State) (bool, error) { return st.Tick >= tick, nil }
}

// All holds when every predicate holds. The first error is returned.
func All(ps ...Predicate) Predicate {
	return func(st *world.State) (bool, error) {
		for _, p := range ps {
			ok, err := p(st)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// ── YAML rule files ─────────────────────────────────────────────────────────

type fileRules struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	Name     string         `yaml:"name"`
	Beat     string         `yaml:"beat"`
	Guidance string         `yaml:"guidance"`
	QuestID  string         `yaml:"quest_id"`
	When     *fileCondition `yaml:"when"`
}

type fileCondition struct {
	TimeOfDay        string `yaml:"time_of_day"`
	LocationContains string `yaml:"location_contains"`
	CurrentEvent     string `yaml:"current_event"`
	Weather          string `yaml:"weather"`
	MinTick          *int64 `yaml:"min_tick"`
}

func (c *fileCondition) predicate() (Predicate, error) {
	if c == nil {
		return nil, nil
	}
	var ps []Predicate
	if c.TimeOfDay != "" {
		ps = append(ps, TimeOfDayIs(world.TimeOfDay(c.TimeOfDay)))
	}
	if c.LocationContains != "" {
		ps = append(ps, LocationContains(c.LocationContains))
	}
	if c.CurrentEvent != "" {
		ps = append(ps, CurrentEventIs(c.CurrentEvent))
	}
	if c.Weather != "" {
		ps = append(ps, WeatherIs(c.Weather))
	}
	if c.MinTick != nil {
		ps = append(ps, MinTick(*c.MinTick))
	}
	if len(ps) == 0 {
		return nil, errors.New("empty condition; omit \"when\" for the fallback rule")
	}
	return All(ps...), nil
}

// ParseRules decodes a YAML rule file. Unknown keys are rejected.
func ParseRules(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f fileRules
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("narrative: decode rules: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		when, err := fr.When.predicate()
		if err != nil {
			return nil, fmt.Errorf("narrative: rule %d (%s): %w", i, fr.Name, err)
		}
		beat := fr.Beat
		if beat == "" {
			beat = fr.Name
		}
		rules = append(rules, Rule{
			Name:     fr.Name,
			Beat:     beat,
			Guidance: fr.Guidance,
			QuestID:  fr.QuestID,
			When:     when,
		})
	}
	return rules, nil
}

// LoadRules reads a YAML rule file from path.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("narrative: read rules: %w", err)
	}
	return ParseRules(bytes.NewReader(data))
}
