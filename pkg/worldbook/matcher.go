// Package worldbook decides which worldbook entries a piece of
// conversation text triggers.
//
// Matching is case-insensitive substring matching: an entry fires when any
// of its keyword tokens occurs anywhere in the lower-cased text, including
// inside a longer word. One Aho-Corasick automaton over every token of every
// entry scans the text in a single pass.
package worldbook

import (
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/34892002/3000World/internal/store"
)

// ============================================================================
// Keyword tokens
// ============================================================================

// isKeywordSeparator reports the keyword delimiters: ASCII comma and the
// full-width comma used in Chinese text.
func isKeywordSeparator(r rune) bool {
	return r == ',' || r == '，'
}

// SplitKeywords splits a keywords field into trimmed, lower-cased tokens.
// Empty tokens are dropped; an empty token would match every text.
func SplitKeywords(keywords string) []string {
	parts := strings.FieldsFunc(keywords, isKeywordSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		tok := strings.ToLower(strings.TrimSpace(p))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// ============================================================================
// Matcher
// ============================================================================

// Matcher is compiled from a snapshot of worldbook entries. It is
// immutable and safe for concurrent use; recompile when entries change.
type Matcher struct {
	ac *ahocorasick.Automaton

	// entries in cache order; results keep this order
	entries []*store.WorldbookEntry

	// pattern index -> indexes into entries sharing that token
	owners [][]int

	// token -> pattern index
	patternIndex map[string]int

	patterns []string
}

// Compile builds a Matcher for entries.
func Compile(entries []*store.WorldbookEntry) (*Matcher, error) {
	m := &Matcher{
		entries:      entries,
		patternIndex: make(map[string]int),
	}

	for i, e := range entries {
		for _, tok := range SplitKeywords(e.Keywords) {
			if idx, ok := m.patternIndex[tok]; ok {
				m.owners[idx] = appendUnique(m.owners[idx], i)
				continue
			}
			m.patternIndex[tok] = len(m.patterns)
			m.patterns = append(m.patterns, tok)
			m.owners = append(m.owners, []int{i})
		}
	}

	if len(m.patterns) == 0 {
		return m, nil
	}

	// Standard match semantics so that overlapping search reports every
	// token, e.g. both "drag" and "dragon" in "dragonfly".
	ac, err := ahocorasick.NewBuilder().
		AddStrings(m.patterns).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	m.ac = ac
	return m, nil
}

// Match returns the entries triggered by text, in entry order.
func (m *Matcher) Match(text string) []*store.WorldbookEntry {
	out := []*store.WorldbookEntry{}
	if m == nil || m.ac == nil || text == "" {
		return out
	}

	haystack := []byte(strings.ToLower(text))
	hit := make([]bool, len(m.entries))
	for _, match := range m.ac.FindAllOverlapping(haystack) {
		if match.PatternID < 0 || match.PatternID >= len(m.owners) {
			continue
		}
		for _, i := range m.owners[match.PatternID] {
			hit[i] = true
		}
	}

	for i, e := range m.entries {
		if hit[i] {
			out = append(out, e)
		}
	}
	return out
}

// Patterns returns the number of distinct keyword tokens.
func (m *Matcher) Patterns() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match compiles entries and matches text in one call. When the automaton
// cannot be built it falls back to a linear scan with the same semantics.
func Match(entries []*store.WorldbookEntry, text string) []*store.WorldbookEntry {
	m, err := Compile(entries)
	if err != nil {
		return matchLinear(entries, text)
	}
	return m.Match(text)
}

func matchLinear(entries []*store.WorldbookEntry, text string) []*store.WorldbookEntry {
	lower := strings.ToLower(text)
	out := []*store.WorldbookEntry{}
	for _, e := range entries {
		for _, tok := range SplitKeywords(e.Keywords) {
			if strings.Contains(lower, tok) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func appendUnique(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
