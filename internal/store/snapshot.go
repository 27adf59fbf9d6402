package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Whole-world export / import
// =============================================================================

// Export reads every canonical collection in one transaction so the
// snapshot is consistent. Vectors are derived data and are not exported.
func (s *SQLiteStore) Export(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{}
	if snap.Characters, err = queryCharacters(ctx, tx); err != nil {
		return nil, fmt.Errorf("export characters: %w", err)
	}
	if snap.Groups, err = queryGroups(ctx, tx); err != nil {
		return nil, fmt.Errorf("export groups: %w", err)
	}
	if snap.Worldbooks, err = queryWorldbooks(ctx, tx); err != nil {
		return nil, fmt.Errorf("export worldbooks: %w", err)
	}
	if snap.ChatMessages, err = queryMessages(ctx, tx, ""); err != nil {
		return nil, fmt.Errorf("export chat messages: %w", err)
	}
	if snap.Config, err = queryConfig(ctx, tx); err != nil {
		return nil, fmt.Errorf("export config: %w", err)
	}

	// Empty collections export as [] rather than null.
	if snap.Characters == nil {
		snap.Characters = []*Character{}
	}
	if snap.Groups == nil {
		snap.Groups = []*Group{}
	}
	if snap.Worldbooks == nil {
		snap.Worldbooks = []*WorldbookEntry{}
	}
	if snap.ChatMessages == nil {
		snap.ChatMessages = []*ChatMessage{}
	}
	return snap, nil
}

// Import replaces every canonical collection with the snapshot content and
// clears the vector collection, all in one transaction. Records without an
// id are assigned one.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		tables := []string{"characters", "char_groups", "worldbooks", "chat_messages", "config"}
		if s.version >= 2 {
			tables = append(tables, "vectors")
		}
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, c := range snap.Characters {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO characters (`+characterColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.Name, c.Description, c.Persona, c.Greeting, c.Personality,
				c.Background, c.AvatarURL, boolToInt(c.IsPlayer), boolToInt(c.IsPublic), boolToInt(c.AllowEdit)); err != nil {
				return fmt.Errorf("import character %s: %w", c.ID, err)
			}
		}

		for _, g := range snap.Groups {
			if g.ID == "" {
				g.ID = uuid.NewString()
			}
			if g.CharacterIDs == nil {
				g.CharacterIDs = []string{}
			}
			idsJSON, err := json.Marshal(g.CharacterIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO char_groups (`+groupColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, g.ID, g.Name, g.Description, g.AvatarURL, string(idsJSON),
				boolToInt(g.IsPrivate), boolToInt(g.AllowInvites)); err != nil {
				return fmt.Errorf("import group %s: %w", g.ID, err)
			}
		}

		for _, w := range snap.Worldbooks {
			if w.ID == "" {
				w.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO worldbooks (`+worldbookColumns+`)
				VALUES (?, ?, ?, ?, ?, ?)
			`, w.ID, w.Name, w.Keywords, w.Content, w.CreatedAt, w.UpdatedAt); err != nil {
				return fmt.Errorf("import worldbook %s: %w", w.ID, err)
			}
		}

		for _, m := range snap.ChatMessages {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO chat_messages (`+messageColumns+`)
				VALUES (?, ?, ?, ?, ?, ?)
			`, m.ID, m.SessionID, m.Role, m.CharacterName, m.Content, m.Timestamp); err != nil {
				return fmt.Errorf("import message %s: %w", m.ID, err)
			}
		}

		if snap.Config != (Config{}) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO config (id, api_key, api_url, model) VALUES (1, ?, ?, ?)`,
				snap.Config.APIKey, snap.Config.APIURL, snap.Config.Model); err != nil {
				return fmt.Errorf("import config: %w", err)
			}
		}
		return nil
	})
}
