// Package store provides SQLite-backed persistence for a World. One
// database file holds every collection of a single World plus its derived
// vector collection.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface;
// the sqlite-vec extension is compiled into the same WASM binary.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// ErrDanglingReference is returned when a group names a character that
// does not exist in the same World.
var ErrDanglingReference = errors.New("group references unknown character")

// SQLiteStore is the SQLite-backed data store for one World.
// Safe for concurrent use; all access goes through a single connection.
type SQLiteStore struct {
	mu      sync.RWMutex
	db      *sql.DB
	path    string
	version int
}

// Open opens (creating if absent) the store at path and migrates it to
// CurrentSchemaVersion. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serialises
	// writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the data source the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// SchemaVersion returns the schema version the store was migrated to.
func (s *SQLiteStore) SchemaVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, sql.ErrConnDone
	}
	return s.db, nil
}

// withTx runs fn inside a transaction. Caller must hold s.mu.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Character CRUD
// =============================================================================

// UpsertCharacter inserts or overwrites a character. An empty ID is
// replaced with a fresh one. Saving a player character clears the flag on
// every other character in the same transaction.
func (s *SQLiteStore) UpsertCharacter(ctx context.Context, c *Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO characters (id, name, description, persona, greeting, personality,
				background, avatar_url, is_player, is_public, allow_edit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				persona = excluded.persona,
				greeting = excluded.greeting,
				personality = excluded.personality,
				background = excluded.background,
				avatar_url = excluded.avatar_url,
				is_player = excluded.is_player,
				is_public = excluded.is_public,
				allow_edit = excluded.allow_edit
		`, c.ID, c.Name, c.Description, c.Persona, c.Greeting, c.Personality,
			c.Background, c.AvatarURL, boolToInt(c.IsPlayer), boolToInt(c.IsPublic), boolToInt(c.AllowEdit))
		if err != nil {
			return fmt.Errorf("upsert character: %w", err)
		}

		if c.IsPlayer {
			if _, err := tx.ExecContext(ctx,
				`UPDATE characters SET is_player = 0 WHERE id <> ? AND is_player = 1`, c.ID); err != nil {
				return fmt.Errorf("clear player flag: %w", err)
			}
		}
		return nil
	})
}

const characterColumns = `id, name, description, persona, greeting, personality,
	background, avatar_url, is_player, is_public, allow_edit`

func scanCharacter(row interface{ Scan(...any) error }) (*Character, error) {
	var c Character
	var isPlayer, isPublic, allowEdit int
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Persona, &c.Greeting, &c.Personality,
		&c.Background, &c.AvatarURL, &isPlayer, &isPublic, &allowEdit); err != nil {
		return nil, err
	}
	c.IsPlayer = isPlayer != 0
	c.IsPublic = isPublic != 0
	c.AllowEdit = allowEdit != 0
	return &c, nil
}

// GetCharacter retrieves a character by ID.
func (s *SQLiteStore) GetCharacter(ctx context.Context, id string) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	c, err := scanCharacter(db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCharacters returns all characters in insertion order.
func (s *SQLiteStore) ListCharacters(ctx context.Context) ([]*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return queryCharacters(ctx, db)
}

func queryCharacters(ctx context.Context, q querier) ([]*Character, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCharacter removes a character and strips its id from every group
// in one transaction. With dropEmptyGroups, groups left without members
// are deleted as well.
func (s *SQLiteStore) DeleteCharacter(ctx context.Context, id string, dropEmptyGroups bool) (*CharacterRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removal := &CharacterRemoval{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM characters WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete character: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+groupColumns+` FROM char_groups
			WHERE EXISTS (SELECT 1 FROM json_each(char_groups.character_ids) WHERE value = ?)
			ORDER BY rowid
		`, id)
		if err != nil {
			return fmt.Errorf("find member groups: %w", err)
		}
		var affected []*Group
		for rows.Next() {
			g, err := scanGroup(rows)
			if err != nil {
				rows.Close()
				return err
			}
			affected = append(affected, g)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, g := range affected {
			g.CharacterIDs = without(g.CharacterIDs, id)
			if len(g.CharacterIDs) == 0 && dropEmptyGroups {
				if _, err := tx.ExecContext(ctx, "DELETE FROM char_groups WHERE id = ?", g.ID); err != nil {
					return fmt.Errorf("delete empty group %s: %w", g.ID, err)
				}
				removal.DeletedGroups = append(removal.DeletedGroups, g.ID)
				continue
			}
			idsJSON, err := json.Marshal(g.CharacterIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE char_groups SET character_ids = ? WHERE id = ?", string(idsJSON), g.ID); err != nil {
				return fmt.Errorf("update group %s: %w", g.ID, err)
			}
			removal.UpdatedGroups = append(removal.UpdatedGroups, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removal, nil
}

// =============================================================================
// Group CRUD
// =============================================================================

// UpsertGroup inserts or overwrites a group. Every member id must name an
// existing character, otherwise ErrDanglingReference is returned.
func (s *SQLiteStore) UpsertGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CharacterIDs == nil {
		g.CharacterIDs = []string{}
	}
	idsJSON, err := json.Marshal(g.CharacterIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal character ids: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var missing sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT value FROM json_each(?)
			WHERE value NOT IN (SELECT id FROM characters) LIMIT 1
		`, string(idsJSON)).Scan(&missing)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDanglingReference, missing.String)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check members: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO char_groups (id, name, description, avatar_url, character_ids, is_private, allow_invites)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				avatar_url = excluded.avatar_url,
				character_ids = excluded.character_ids,
				is_private = excluded.is_private,
				allow_invites = excluded.allow_invites
		`, g.ID, g.Name, g.Description, g.AvatarURL, string(idsJSON),
			boolToInt(g.IsPrivate), boolToInt(g.AllowInvites))
		return err
	})
}

const groupColumns = `id, name, description, avatar_url, character_ids, is_private, allow_invites`

func scanGroup(row interface{ Scan(...any) error }) (*Group, error) {
	var g Group
	var idsJSON string
	var isPrivate, allowInvites int
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.AvatarURL, &idsJSON,
		&isPrivate, &allowInvites); err != nil {
		return nil, err
	}
	g.IsPrivate = isPrivate != 0
	g.AllowInvites = allowInvites != 0
	if idsJSON != "" {
		if err := json.Unmarshal([]byte(idsJSON), &g.CharacterIDs); err != nil {
			g.CharacterIDs = []string{}
		}
	}
	if g.CharacterIDs == nil {
		g.CharacterIDs = []string{}
	}
	return &g, nil
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	g, err := scanGroup(db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM char_groups WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroups returns all groups in insertion order.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return queryGroups(ctx, db)
}

func queryGroups(ctx context.Context, q querier) ([]*Group, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+groupColumns+` FROM char_groups ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a group by ID.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM char_groups WHERE id = ?", id)
	return err
}

// =============================================================================
// Worldbook CRUD
// =============================================================================

// UpsertWorldbook inserts or overwrites a worldbook entry.
func (s *SQLiteStore) UpsertWorldbook(ctx context.Context, w *WorldbookEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO worldbooks (id, name, keywords, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			keywords = excluded.keywords,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, w.ID, w.Name, w.Keywords, w.Content, w.CreatedAt, w.UpdatedAt)
	return err
}

const worldbookColumns = `id, name, keywords, content, created_at, updated_at`

func scanWorldbook(row interface{ Scan(...any) error }) (*WorldbookEntry, error) {
	var w WorldbookEntry
	if err := row.Scan(&w.ID, &w.Name, &w.Keywords, &w.Content, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorldbook retrieves a worldbook entry by ID.
func (s *SQLiteStore) GetWorldbook(ctx context.Context, id string) (*WorldbookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	w, err := scanWorldbook(db.QueryRowContext(ctx,
		`SELECT `+worldbookColumns+` FROM worldbooks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorldbooks returns all worldbook entries in insertion order.
func (s *SQLiteStore) ListWorldbooks(ctx context.Context) ([]*WorldbookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return queryWorldbooks(ctx, db)
}

func queryWorldbooks(ctx context.Context, q querier) ([]*WorldbookEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+worldbookColumns+` FROM worldbooks ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorldbookEntry
	for rows.Next() {
		w, err := scanWorldbook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorldbook removes a worldbook entry by ID.
func (s *SQLiteStore) DeleteWorldbook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM worldbooks WHERE id = ?", id)
	return err
}

// =============================================================================
// Config
// =============================================================================

// LoadConfig returns the world config, or the zero Config if none was saved.
func (s *SQLiteStore) LoadConfig(ctx context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return Config{}, err
	}
	return queryConfig(ctx, db)
}

func queryConfig(ctx context.Context, q querier) (Config, error) {
	var cfg Config
	err := q.QueryRowContext(ctx, `SELECT api_key, api_url, model FROM config WHERE id = 1`).
		Scan(&cfg.APIKey, &cfg.APIURL, &cfg.Model)
	if err == sql.ErrNoRows {
		return Config{}, nil
	}
	return cfg, err
}

// SaveConfig overwrites the single config record.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO config (id, api_key, api_url, model) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			api_key = excluded.api_key,
			api_url = excluded.api_url,
			model = excluded.model
	`, cfg.APIKey, cfg.APIURL, cfg.Model)
	return err
}

// =============================================================================
// Chat history
// =============================================================================

// AddMessage appends a message. An empty ID is replaced with a fresh one.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, character_name, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			role = excluded.role,
			character_name = excluded.character_name,
			content = excluded.content,
			timestamp = excluded.timestamp
	`, msg.ID, msg.SessionID, msg.Role, msg.CharacterName, msg.Content, msg.Timestamp)
	return err
}

const messageColumns = `id, session_id, role, character_name, content, timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*ChatMessage, error) {
	var m ChatMessage
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.CharacterName, &m.Content, &m.Timestamp); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetChatHistory returns a session's messages in chronological order.
func (s *SQLiteStore) GetChatHistory(ctx context.Context, sessionID string) ([]*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return queryMessages(ctx, db, `WHERE session_id = ?`, sessionID)
}

// ListAllMessages returns every message of the World in chronological order.
func (s *SQLiteStore) ListAllMessages(ctx context.Context) ([]*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return queryMessages(ctx, db, "")
}

func queryMessages(ctx context.Context, q querier, where string, args ...any) ([]*ChatMessage, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages `+where+` ORDER BY timestamp ASC, rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSessions returns the distinct session ids, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id FROM chat_messages
		GROUP BY session_id ORDER BY MAX(timestamp) DESC, session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// DeleteChatHistory removes a session's messages together with their
// vector companions.
func (s *SQLiteStore) DeleteChatHistory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if s.version >= 2 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE session_id = ?", sessionID); err != nil {
				return fmt.Errorf("delete vectors: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// Helpers
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return !strings.HasPrefix(strings.ToLower(s), "sqlite_")
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
