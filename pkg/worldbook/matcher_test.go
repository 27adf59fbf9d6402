package worldbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/34892002/3000World/internal/store"
)

func ids(entries []*store.WorldbookEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestSplitKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"dragon, King", []string{"dragon", "king"}},
		{"龙，凤凰,Phoenix", []string{"龙", "凤凰", "phoenix"}},
		{" , ,，", []string{}},
		{"", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitKeywords(tt.in), tt.in)
	}
}

func TestMatchDragonKing(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "dragon", Keywords: "dragon, King"},
		{ID: "phoenix", Keywords: "phoenix"},
		{ID: "king-only", Keywords: "KING"},
	}

	got := Match(entries, "The Dragon King awoke")
	assert.Equal(t, []string{"dragon", "king-only"}, ids(got))
}

func TestMatchIsSubstringNotToken(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "drag", Keywords: "drag"},
		{ID: "dragon", Keywords: "dragon"},
		{ID: "fly", Keywords: "fly"},
	}

	got := Match(entries, "A DRAGONFLY hovered")
	assert.Equal(t, []string{"drag", "dragon", "fly"}, ids(got))
}

func TestMatchChineseComma(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "capital", Keywords: "王都，皇城"},
		{ID: "sea", Keywords: "大海"},
	}
	got := Match(entries, "他们抵达了皇城。")
	assert.Equal(t, []string{"capital"}, ids(got))
}

func TestMatchKeepsEntryOrder(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "b", Keywords: "beta"},
		{ID: "a", Keywords: "alpha"},
	}
	got := Match(entries, "alpha then beta")
	assert.Equal(t, []string{"b", "a"}, ids(got))
}

func TestMatchIgnoresEmptyTokens(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "blank", Keywords: " , "},
		{ID: "none", Keywords: ""},
	}
	assert.Empty(t, Match(entries, "anything at all"))
}

func TestSharedTokenFiresEveryOwner(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "x", Keywords: "sword"},
		{ID: "y", Keywords: "shield, sword"},
	}
	m, err := Compile(entries)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Patterns())
	assert.Equal(t, []string{"x", "y"}, ids(m.Match("a rusty Sword")))
}

func TestMatchAgreesWithLinearScan(t *testing.T) {
	entries := []*store.WorldbookEntry{
		{ID: "1", Keywords: "moon, 月"},
		{ID: "2", Keywords: "oon"},
		{ID: "3", Keywords: "night sky"},
		{ID: "4", Keywords: "sun"},
	}
	texts := []string{"Moonlight", "the NIGHT SKY was clear", "月光", "", "sunny moon"}
	for _, text := range texts {
		assert.Equal(t, ids(matchLinear(entries, text)), ids(Match(entries, text)), text)
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	assert.Empty(t, m.Match("text"))
	assert.Zero(t, m.Patterns())
}

func TestSuggestKeywords(t *testing.T) {
	content := "The Dragon King rules the mountain. The dragon sleeps under the mountain, and the king waits."
	got := SuggestKeywords(content, 3)
	assert.Equal(t, []string{"dragon", "king", "mountain"}, got)

	assert.Nil(t, SuggestKeywords(content, 0))
	assert.Empty(t, SuggestKeywords("the and of", 5))
}
