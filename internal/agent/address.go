// Package agent resolves which NPC a player is talking to when the event
// does not name one.
package agent

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/murmur/internal/agent/phonetic"
)

// ErrNoTarget is returned when no NPC can be identified.
var ErrNoTarget = errors.New("agent: no target NPC identified")

// minFragment is the shortest name word that is indexed on its own.
const minFragment = 3

type candidate struct {
	key string
	id  string
}

// AddressDetector maps utterances to NPC ids. It is read-only after
// construction and safe for concurrent use.
//
// Names are derived from ids ("malrik_merchant" is addressed as "Malrik
// Merchant", "Malrik" or "merchant"). Aliases add further names.
type AddressDetector struct {
	ids       []string
	sorted    []candidate // by descending key length
	fragments map[string]string
	matcher   *phonetic.Matcher
}

// NewAddressDetector indexes ids and their aliases (id → extra names).
func NewAddressDetector(ids []string, aliases map[string][]string) *AddressDetector {
	d := &AddressDetector{
		ids:       slices.Sorted(slices.Values(ids)),
		fragments: make(map[string]string),
		matcher:   phonetic.New(),
	}
	index := make(map[string]string)
	add := func(name, id string) {
		lower := strings.Join(tokens(name), " ")
		if lower == "" {
			return
		}
		index[lower] = id
		for _, w := range strings.Fields(lower) {
			if len(w) >= minFragment {
				index[w] = id
				d.fragments[w] = id
			}
		}
	}
	for _, id := range ids {
		add(strings.ReplaceAll(id, "_", " "), id)
		for _, a := range aliases[id] {
			add(a, id)
		}
	}

	d.sorted = make([]candidate, 0, len(index))
	for k, id := range index {
		d.sorted = append(d.sorted, candidate{key: k, id: id})
	}
	slices.SortFunc(d.sorted, func(a, b candidate) int {
		if n := len(b.key) - len(a.key); n != 0 {
			return n
		}
		return strings.Compare(a.key, b.key)
	})
	return d
}

// Detect returns the NPC addressed by text. The strategies, in order:
//  1. exact name or name word, longest first;
//  2. phonetic match of a word against name words;
//  3. lastSpeaker, if still known;
//  4. the only NPC, if there is exactly one;
//  5. ErrNoTarget.
func (d *AddressDetector) Detect(text, lastSpeaker string) (string, error) {
	words := tokens(text)
	padded := " " + strings.Join(words, " ") + " "

	for _, c := range d.sorted {
		if strings.Contains(padded, " "+c.key+" ") {
			return c.id, nil
		}
	}

	if id := d.matchPhonetic(words); id != "" {
		return id, nil
	}

	if lastSpeaker != "" && slices.Contains(d.ids, lastSpeaker) {
		return lastSpeaker, nil
	}
	if len(d.ids) == 1 {
		return d.ids[0], nil
	}
	return "", ErrNoTarget
}

func (d *AddressDetector) matchPhonetic(words []string) string {
	if len(d.fragments) == 0 {
		return ""
	}
	names := make([]string, 0, len(d.fragments))
	for f := range d.fragments {
		names = append(names, f)
	}
	slices.Sort(names)

	var (
		bestID    string
		bestScore float64
	)
	for _, w := range words {
		if len(w) < minFragment+1 {
			continue
		}
		name, score, ok := d.matcher.Match(w, names)
		if ok && score > bestScore {
			bestID, bestScore = d.fragments[name], score
		}
	}
	return bestID
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
