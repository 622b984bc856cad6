// Package suggest finds the closest known name for a mistyped command or
// phrase, using Double Metaphone codes to find candidates that sound alike
// and Jaro-Winkler similarity to rank them.
//
// A candidate whose phonetic code overlaps the input wins when its score
// reaches the phonetic threshold (default 0.70). Otherwise the best pure
// Jaro-Winkler score must reach the higher fuzzy threshold (default 0.85).
package suggest

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that sounds like the input.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// that does not sound like the input.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
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

// Closest returns the candidate most similar to word. ok is false when no
// candidate is close enough or word is itself a candidate (case-insensitive).
func (m *Matcher) Closest(word string, candidates []string) (best string, score float64, ok bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || len(candidates) == 0 {
		return "", 0, false
	}
	inputCodes := codes(word)

	var bestPhonetic bool
	for _, c := range candidates {
		lower := strings.ToLower(strings.TrimSpace(c))
		if lower == "" {
			continue
		}
		if lower == word {
			return "", 0, false
		}
		s := matchr.JaroWinkler(word, lower, false)
		if overlaps(inputCodes, codes(lower)) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > score) {
				best, score, bestPhonetic = c, s, true
			}
			continue
		}
		if !bestPhonetic && s >= m.fuzzyThreshold && s > score {
			best, score = c, s
		}
	}
	return best, score, best != ""
}

// codes returns the non-empty Double Metaphone codes of s.
func codes(s string) []string {
	p, alt := matchr.DoubleMetaphone(s)
	var out []string
	if p != "" {
		out = append(out, p)
	}
	if alt != "" && alt != p {
		out = append(out, alt)
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
