package replygen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/34892002/3000World/internal/store"
)

var (
	thinkBlock  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencedBlock = regexp.MustCompile("(?s)```.*?```")
	narration   = regexp.MustCompile(`(?i)\[?Narration:`)
	blankRuns   = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// NarrationLabel replaces English "Narration:" markers.
const NarrationLabel = "旁白:"

// Clean strips model artefacts from a reply: reasoning blocks, fenced code
// blocks, runs of blank lines and surrounding whitespace. "Narration:"
// markers become NarrationLabel.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = thinkBlock.ReplaceAllString(text, "")
	text = fencedBlock.ReplaceAllString(text, "")
	text = narration.ReplaceAllLiteralString(text, NarrationLabel)
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// BuildPrompt prepends triggered lore and recalled memories to the user's
// input. Sections with nothing to say are left out.
func BuildPrompt(input string, lore []*store.WorldbookEntry, recalled []*store.VectorMatch) string {
	var b strings.Builder
	if len(lore) > 0 {
		b.WriteString("World information:\n")
		for _, e := range lore {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(e.Content))
		}
		b.WriteString("\n")
	}
	if len(recalled) > 0 {
		b.WriteString("Relevant earlier conversation:\n")
		for _, m := range recalled {
			if m.CharacterName != "" {
				fmt.Fprintf(&b, "- %s: %s\n", m.CharacterName, m.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", m.Content)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(input)
	return b.String()
}
