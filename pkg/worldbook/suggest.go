package worldbook

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/orsinium-labs/stopwords"
)

var english = stopwords.MustGet("en")

// SuggestKeywords proposes up to n keywords for an entry from its content:
// the most frequent words that are not stopwords, ties broken by first
// appearance. Latin words shorter than three letters are skipped.
func SuggestKeywords(content string, n int) []string {
	if n <= 0 {
		return nil
	}

	type stat struct {
		count int
		first int
	}
	stats := make(map[string]*stat)
	order := 0

	for _, tok := range tokenize(content) {
		if english.Contains(tok) || tooShort(tok) {
			continue
		}
		s, ok := stats[tok]
		if !ok {
			s = &stat{first: order}
			stats[tok] = s
			order++
		}
		s.count++
	}

	words := make([]string, 0, len(stats))
	for w := range stats {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		a, b := stats[words[i]], stats[words[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.first < b.first
	})

	if len(words) > n {
		words = words[:n]
	}
	return words
}

// tokenize splits text into lower-cased runs of letters and digits.
// Apostrophes and hyphens inside a word are kept.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-')
	})
}

func tooShort(tok string) bool {
	tok = strings.Trim(tok, "'-")
	if tok == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(tok)
	if unicode.Is(unicode.Han, r) {
		return utf8.RuneCountInString(tok) < 2
	}
	return utf8.RuneCountInString(tok) < 3
}
