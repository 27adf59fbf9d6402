package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
//
//	v1: characters, groups, worldbooks, chat_messages, config
//	v2: vectors collection
const CurrentSchemaVersion = 2

const keySchemaVersion = "schema_version"

// ErrNewerSchema is returned when a world file was written by a newer
// build than this one.
type ErrNewerSchema struct {
	Found int
}

func (e *ErrNewerSchema) Error() string {
	return fmt.Sprintf("database created by newer version (v%d > v%d)", e.Found, CurrentSchemaVersion)
}

var migrations = map[int]string{
	1: `
	CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		persona TEXT NOT NULL DEFAULT '',
		greeting TEXT NOT NULL DEFAULT '',
		personality TEXT NOT NULL DEFAULT '',
		background TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		is_player INTEGER NOT NULL DEFAULT 0,
		is_public INTEGER NOT NULL DEFAULT 0,
		allow_edit INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS char_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		character_ids TEXT NOT NULL DEFAULT '[]', -- JSON array, ordered
		is_private INTEGER NOT NULL DEFAULT 0,
		allow_invites INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS worldbooks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		character_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		api_key TEXT NOT NULL DEFAULT '',
		api_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT ''
	);
	`,
	2: `
	CREATE TABLE IF NOT EXISTS vectors (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		character_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL DEFAULT 0,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL -- little-endian float32
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_session ON vectors(session_id);
	`,
}

// migrate brings the schema up to CurrentSchemaVersion, one step per
// version, each step in its own transaction.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_meta: %w", err)
	}

	version, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return fmt.Errorf("failed to get schema info: %w", err)
	}
	if version > CurrentSchemaVersion {
		return &ErrNewerSchema{Found: version}
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := s.runMigration(ctx, v); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", v, err)
		}
	}
	s.version = CurrentSchemaVersion
	return nil
}

func (s *SQLiteStore) runMigration(ctx context.Context, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keySchemaVersion, strconv.Itoa(version)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func readSchemaVersion(ctx context.Context, q querier) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = ?`, keySchemaVersion).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		// Unreadable marker: treat as the first schema and let the
		// idempotent migrations fill in the rest.
		return 1, nil
	}
	return v, nil
}
