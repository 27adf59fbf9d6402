package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "world_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesToCurrentVersion(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, CurrentSchemaVersion, s.SchemaVersion())
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "world_future.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE schema_meta SET value = '99' WHERE key = ?`, keySchemaVersion)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, path)
	var newer *ErrNewerSchema
	require.ErrorAs(t, err, &newer)
	assert.Equal(t, 99, newer.Found)
}

func TestCharacterCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := &Character{Name: "Aria", Persona: "a wandering bard", IsPublic: true}
	require.NoError(t, s.UpsertCharacter(ctx, c))
	require.NotEmpty(t, c.ID, "empty id must be assigned")

	got, err := s.GetCharacter(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Aria", got.Name)
	assert.True(t, got.IsPublic)

	c.Name = "Aria the Bold"
	require.NoError(t, s.UpsertCharacter(ctx, c))
	all, err := s.ListCharacters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Aria the Bold", all[0].Name)

	missing, err := s.GetCharacter(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertCharacterKeepsSinglePlayer(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := &Character{ID: "a", Name: "A", IsPlayer: true}
	b := &Character{ID: "b", Name: "B"}
	require.NoError(t, s.UpsertCharacter(ctx, a))
	require.NoError(t, s.UpsertCharacter(ctx, b))

	b.IsPlayer = true
	require.NoError(t, s.UpsertCharacter(ctx, b))

	all, err := s.ListCharacters(ctx)
	require.NoError(t, err)
	players := 0
	for _, c := range all {
		if c.IsPlayer {
			players++
			assert.Equal(t, "b", c.ID)
		}
	}
	assert.Equal(t, 1, players)
}

func TestUpsertGroupRejectsUnknownMember(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertCharacter(ctx, &Character{ID: "a", Name: "A"}))
	err := s.UpsertGroup(ctx, &Group{Name: "Party", CharacterIDs: []string{"a", "ghost"}})
	require.ErrorIs(t, err, ErrDanglingReference)

	g := &Group{Name: "Party", CharacterIDs: []string{"a"}}
	require.NoError(t, s.UpsertGroup(ctx, g))
	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.CharacterIDs)
}

func TestDeleteCharacterFixesGroups(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *SQLiteStore {
		s := openTestStore(t)
		require.NoError(t, s.UpsertCharacter(ctx, &Character{ID: "a", Name: "A"}))
		require.NoError(t, s.UpsertCharacter(ctx, &Character{ID: "b", Name: "B"}))
		require.NoError(t, s.UpsertGroup(ctx, &Group{ID: "duo", CharacterIDs: []string{"a", "b"}}))
		require.NoError(t, s.UpsertGroup(ctx, &Group{ID: "solo", CharacterIDs: []string{"a"}}))
		require.NoError(t, s.UpsertGroup(ctx, &Group{ID: "other", CharacterIDs: []string{"b"}}))
		return s
	}

	t.Run("retain empty groups", func(t *testing.T) {
		s := seed(t)
		removal, err := s.DeleteCharacter(ctx, "a", false)
		require.NoError(t, err)
		assert.Empty(t, removal.DeletedGroups)
		require.Len(t, removal.UpdatedGroups, 2)

		solo, err := s.GetGroup(ctx, "solo")
		require.NoError(t, err)
		require.NotNil(t, solo)
		assert.Empty(t, solo.CharacterIDs)

		duo, err := s.GetGroup(ctx, "duo")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, duo.CharacterIDs)
	})

	t.Run("drop empty groups", func(t *testing.T) {
		s := seed(t)
		removal, err := s.DeleteCharacter(ctx, "a", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"solo"}, removal.DeletedGroups)

		solo, err := s.GetGroup(ctx, "solo")
		require.NoError(t, err)
		assert.Nil(t, solo)

		groups, err := s.ListGroups(ctx)
		require.NoError(t, err)
		for _, g := range groups {
			assert.NotContains(t, g.CharacterIDs, "a")
		}
	})
}

func TestWorldbookCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	w := &WorldbookEntry{Name: "Dragon", Keywords: "dragon, 龙", Content: "The Dragon King sleeps.", CreatedAt: 1, UpdatedAt: 1}
	require.NoError(t, s.UpsertWorldbook(ctx, w))

	w.Content = "The Dragon King awoke."
	w.UpdatedAt = 2
	require.NoError(t, s.UpsertWorldbook(ctx, w))

	got, err := s.GetWorldbook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Dragon King awoke.", got.Content)
	assert.Equal(t, int64(1), got.CreatedAt)
	assert.Equal(t, int64(2), got.UpdatedAt)

	require.NoError(t, s.DeleteWorldbook(ctx, w.ID))
	all, err := s.ListWorldbooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConfigSingleRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cfg, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)

	require.NoError(t, s.SaveConfig(ctx, Config{APIKey: "k", Model: "m"}))
	require.NoError(t, s.SaveConfig(ctx, Config{APIKey: "k2", APIURL: "u", Model: "m"}))

	cfg, err = s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, Config{APIKey: "k2", APIURL: "u", Model: "m"}, cfg)
}

func TestChatHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AddMessage(ctx, &ChatMessage{SessionID: "s1", Role: "user", Content: "second", Timestamp: 20}))
	require.NoError(t, s.AddMessage(ctx, &ChatMessage{SessionID: "s1", Role: "user", Content: "first", Timestamp: 10}))
	require.NoError(t, s.AddMessage(ctx, &ChatMessage{SessionID: "s2", Role: "assistant", Content: "other", Timestamp: 30}))

	history, err := s.GetChatHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, sessions)

	require.NoError(t, s.DeleteChatHistory(ctx, "s1"))
	all, err := s.ListAllMessages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "s2", all[0].SessionID)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertCharacter(ctx, &Character{ID: "a", Name: "A", IsPlayer: true}))
	require.NoError(t, s.UpsertGroup(ctx, &Group{ID: "g", Name: "G", CharacterIDs: []string{"a"}}))
	require.NoError(t, s.UpsertWorldbook(ctx, &WorldbookEntry{ID: "w", Name: "W", Keywords: "x"}))
	require.NoError(t, s.AddMessage(ctx, &ChatMessage{ID: "m", SessionID: "s", Role: "user", Content: "hi", Timestamp: 1}))
	require.NoError(t, s.SaveConfig(ctx, Config{Model: "gpt"}))

	snap, err := s.Export(ctx)
	require.NoError(t, err)

	// Import into a fresh store that already has unrelated content.
	s2 := openTestStore(t)
	require.NoError(t, s2.UpsertCharacter(ctx, &Character{ID: "stale", Name: "Stale"}))
	require.NoError(t, s2.Import(ctx, snap))

	again, err := s2.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, again)

	stale, err := s2.GetCharacter(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestExportEmptyWorldUsesEmptyArrays(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.Export(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap.Characters)
	assert.NotNil(t, snap.Groups)
	assert.NotNil(t, snap.Worldbooks)
	assert.NotNil(t, snap.ChatMessages)
}

func TestClosedStoreFails(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())
	_, err := s.ListCharacters(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
