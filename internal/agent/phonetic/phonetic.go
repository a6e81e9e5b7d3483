// Package phonetic matches misspelt or misheard names against a known name
// list. Players rarely type NPC names the way the roster spells them
// ("Malric", "Helina"); this package recovers the intended name.
//
// Matching runs in two passes:
//
//  1. Phonetic candidates: Double Metaphone codes of the input tokens are
//     compared with those of every name. Names sharing a code are ranked by
//     Jaro-Winkler similarity and accepted above the phonetic threshold.
//  2. Fuzzy fallback: without a phonetic candidate, pure Jaro-Winkler
//     similarity is accepted above the stricter fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fuzzy
// fallback. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the name most similar to word. word may hold several
// space-separated tokens. When nothing qualifies, matched is false and
// confidence is 0.
func (m *Matcher) Match(word string, names []string) (name string, confidence float64, matched bool) {
	in := strings.ToLower(strings.TrimSpace(word))
	if len(names) == 0 || in == "" {
		return "", 0, false
	}
	inTokens := strings.Fields(in)
	inCodes := codes(inTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		lower := strings.ToLower(strings.TrimSpace(n))
		if lower == "" {
			continue
		}
		nTokens := strings.Fields(lower)
		score := similarity(inTokens, nTokens, in, lower)

		if overlap(inCodes, codes(nTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = n, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = n, score
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-free strings and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, x := range aTokens {
		for _, y := range bTokens {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
