package replygen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
)

func chatServer(t *testing.T, content, reasoning string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":              "assistant",
					"content":           content,
					"reasoning_content": reasoning,
				},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReplyUsesWorldConfig(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "Hello, traveller.", "", &body)

	g := &Generator{}
	out, err := g.Reply(context.Background(), "hi", store.Config{APIKey: "key", APIURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, traveller.", out)
	assert.Equal(t, DefaultModel, body["model"])
	assert.InDelta(t, DefaultTemperature, body["temperature"], 1e-6)
}

func TestReplyFallsBackToReasoning(t *testing.T) {
	srv := chatServer(t, "", "thinking out loud", nil)
	out, err := (&Generator{}).Reply(context.Background(), "hi",
		store.Config{APIKey: "key", APIURL: srv.URL + "/v1", Model: "deepseek-r1"})
	require.NoError(t, err)
	assert.Equal(t, "thinking out loud", out)
}

func TestReplyRejectsEmptyPrompt(t *testing.T) {
	_, err := (&Generator{}).Reply(context.Background(), "  ", store.Config{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateCleans(t *testing.T) {
	srv := chatServer(t, "<think>plan</think>Narration: the door creaks.", "", nil)
	out, err := (&Generator{}).Generate(context.Background(), "hi", store.Config{APIKey: "key", APIURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, "旁白: the door creaks.", out)
}

func TestClean(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"think block", "<think>\nlong\nthoughts\n</think>\nHi", "Hi"},
		{"fenced block", "Before\n```json\n{}\n```\nAfter", "Before\n\nAfter"},
		{"narration", "[narration: rain falls", "旁白: rain falls"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"trim", "  hi  \n", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "hello", BuildPrompt("hello", nil, nil))

	p := BuildPrompt("hello",
		[]*store.WorldbookEntry{{Content: "Dragons rule the north."}},
		[]*store.VectorMatch{{VectorRecord: store.VectorRecord{CharacterName: "Bob", Content: "I fear dragons"}}})
	assert.Contains(t, p, "- Dragons rule the north.\n")
	assert.Contains(t, p, "- Bob: I fear dragons\n")
	assert.True(t, len(p) > len("hello"))
	assert.Equal(t, "hello", p[len(p)-len("hello"):])
}
