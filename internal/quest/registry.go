package quest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrRegistryMiss is returned by Lookup for unknown quest ids.
var ErrRegistryMiss = errors.New("quest: not in registry")

// Quest is one registry entry.
type Quest struct {
	ID               string   `json:"-"`
	Triggers         []string `json:"triggers"`
	CompleteTriggers []string `json:"complete_triggers,omitempty"`
	OfferText        string   `json:"offer_text"`
	AcceptText       string   `json:"accept_text,omitempty"`
	DeclineText      string   `json:"decline_text,omitempty"`
	CompleteText     string   `json:"complete_text,omitempty"`

	triggers, completions []pattern
}

// Matches reports whether any offer trigger matches text.
func (q Quest) Matches(text string) bool { return matchAny(q.triggers, text) }

// Completes reports whether any completion trigger matches text.
func (q Quest) Completes(text string) bool { return matchAny(q.completions, text) }

// Registry is the ordered, immutable quest catalogue. Order is the file order
// and decides which quest the scan offers first.
type Registry struct {
	quests []Quest
	byID   map[string]int
}

// NewRegistry builds a registry from quests in the given order. Trigger
// patterns are compiled here.
func NewRegistry(quests ...Quest) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(quests))}
	for _, q := range quests {
		if q.ID == "" {
			return nil, fmt.Errorf("quest: empty quest id")
		}
		if _, dup := r.byID[q.ID]; dup {
			return nil, fmt.Errorf("quest: duplicate quest id %q", q.ID)
		}
		q.triggers = compilePatterns(q.Triggers)
		q.completions = compilePatterns(q.CompleteTriggers)
		r.byID[q.ID] = len(r.quests)
		r.quests = append(r.quests, q)
	}
	return r, nil
}

// Parse validates data against the registry schema and decodes it keeping
// the key order.
func Parse(data []byte) (*Registry, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("quest: decode registry: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("quest: invalid registry: %w", err)
	}

	om := orderedmap.New[string, Quest]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, fmt.Errorf("quest: decode registry: %w", err)
	}
	quests := make([]Quest, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		q := pair.Value
		q.ID = pair.Key
		quests = append(quests, q)
	}
	return NewRegistry(quests...)
}

// Load reads and parses the registry file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quest: read registry: %w", err)
	}
	return Parse(data)
}

// Lookup returns the quest with id, or an error wrapping ErrRegistryMiss.
func (r *Registry) Lookup(id string) (Quest, error) {
	if r != nil {
		if i, ok := r.byID[id]; ok {
			return r.quests[i], nil
		}
	}
	return Quest{}, fmt.Errorf("quest %q: %w", id, ErrRegistryMiss)
}

// Contains reports whether id is a registry quest.
func (r *Registry) Contains(id string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byID[id]
	return ok
}

// Quests returns the quests in registry order.
func (r *Registry) Quests() []Quest {
	if r == nil {
		return nil
	}
	return append([]Quest(nil), r.quests...)
}

// Len returns the number of quests.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.quests)
}

// pattern is a case-insensitive trigger. Triggers that are not valid regular
// expressions fall back to a substring test.
type pattern struct {
	re  *regexp.Regexp
	lit string
}

func compilePatterns(triggers []string) []pattern {
	out := make([]pattern, 0, len(triggers))
	for _, t := range triggers {
		if re, err := regexp.Compile("(?i)" + t); err == nil {
			out = append(out, pattern{re: re})
			continue
		}
		out = append(out, pattern{lit: strings.ToLower(t)})
	}
	return out
}

func (p pattern) match(text string) bool {
	if p.re != nil {
		return p.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), p.lit)
}

func matchAny(ps []pattern, text string) bool {
	for _, p := range ps {
		if p.match(text) {
			return true
		}
	}
	return false
}
