package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// VectorIndex is a handle on a world's vector collection. Distances are
// computed by the sqlite-vec extension loaded into the same database.
type VectorIndex struct {
	s          *SQLiteStore
	collection string
	field      string
	version    int
}

// OpenVectorIndex validates that the vector collection exists with the
// given vector field and that sqlite-vec is available. version is the
// minimum schema version the caller expects.
func (s *SQLiteStore) OpenVectorIndex(ctx context.Context, collection, field string, version int) (*VectorIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !isIdentifier(collection) || !isIdentifier(field) {
		return nil, fmt.Errorf("invalid vector collection %q/%q", collection, field)
	}
	if s.version < version {
		return nil, fmt.Errorf("schema v%d has no vector collection (need v%d)", s.version, version)
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var vecVersion string
	if err := db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&vecVersion); err != nil {
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, collection)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", collection, err)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == field {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("collection %q has no vector field %q", collection, field)
	}

	return &VectorIndex{s: s, collection: collection, field: field, version: version}, nil
}

// Collection returns the collection name the index writes to.
func (v *VectorIndex) Collection() string { return v.collection }

// ErrMessageGone is returned by Upsert when the record's chat message no
// longer exists.
var ErrMessageGone = errors.New("chat message no longer exists")

// Upsert stores or replaces the vector record for a message. The write
// happens only while the message is still in chat_messages; otherwise
// nothing is stored and ErrMessageGone is returned.
func (v *VectorIndex) Upsert(ctx context.Context, rec *VectorRecord) error {
	if rec.MessageID == "" {
		return errors.New("vector record has no message id")
	}
	if len(rec.Vector) == 0 {
		return errors.New("vector record has no vector")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	db, err := v.s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (message_id, session_id, role, character_name, content, timestamp, dims, %[2]s)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM chat_messages WHERE id = ?)
		ON CONFLICT(message_id) DO UPDATE SET
			session_id = excluded.session_id,
			role = excluded.role,
			character_name = excluded.character_name,
			content = excluded.content,
			timestamp = excluded.timestamp,
			dims = excluded.dims,
			%[2]s = excluded.%[2]s
	`, v.collection, v.field),
		rec.MessageID, rec.SessionID, rec.Role, rec.CharacterName, rec.Content, rec.Timestamp,
		len(rec.Vector), encodeVector(rec.Vector), rec.MessageID)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("upsert vector %s: %w", rec.MessageID, ErrMessageGone)
	}
	return nil
}

// Get returns the vector record for a message, or nil if there is none.
func (v *VectorIndex) Get(ctx context.Context, messageID string) (*VectorRecord, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	db, err := v.s.conn()
	if err != nil {
		return nil, err
	}

	var rec VectorRecord
	var blob []byte
	err = db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT message_id, session_id, role, character_name, content, timestamp, %s
		FROM %s WHERE message_id = ?
	`, v.field, v.collection), messageID).Scan(&rec.MessageID, &rec.SessionID, &rec.Role,
		&rec.CharacterName, &rec.Content, &rec.Timestamp, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Vector = decodeVector(blob)
	return &rec, nil
}

// Search returns up to k records closest to query by cosine distance.
// A non-empty sessionID restricts the search to that session. Records
// with a different dimensionality than query are skipped.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int, sessionID string) ([]*VectorMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}

	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	db, err := v.s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_id, session_id, role, character_name, content, timestamp,
			vec_distance_cosine(%[1]s, ?) AS distance
		FROM %[2]s
		WHERE dims = ? AND (? = '' OR session_id = ?)
		ORDER BY distance ASC, timestamp DESC
		LIMIT ?
	`, v.field, v.collection), encodeVector(query), len(query), sessionID, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []*VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Role, &m.CharacterName,
			&m.Content, &m.Timestamp, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Count returns the number of stored vectors.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	db, err := v.s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, v.collection)).Scan(&n)
	return n, err
}

// DeleteSession removes every vector belonging to a session.
func (v *VectorIndex) DeleteSession(ctx context.Context, sessionID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	db, err := v.s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, v.collection), sessionID)
	return err
}

// Clear removes every vector.
func (v *VectorIndex) Clear(ctx context.Context) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	db, err := v.s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, v.collection))
	return err
}

// encodeVector packs v in the little-endian float32 layout sqlite-vec
// reads from BLOB arguments.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
