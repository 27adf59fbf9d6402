// Package transfer exports a World to a portable JSON document and imports
// such a document back, replacing a World's content.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

const (
	// Format identifies documents written by this package.
	Format = "3000world"
	// Version is the document layout version.
	Version = 1
)

// Document is an exported World. The five collection keys sit at the top
// level next to the metadata fields.
type Document struct {
	Format     string `json:"format,omitempty"`
	Version    int    `json:"version,omitempty"`
	World      string `json:"world,omitempty"`
	ExportedAt int64  `json:"exportedAt,omitempty"`
	*store.Snapshot
}

// collections are the keys every document must carry and their JSON kind.
var collections = []struct {
	key   string
	array bool
}{
	{"characters", true},
	{"groups", true},
	{"worldbooks", true},
	{"chatMessages", true},
	{"config", false},
}

// Refresher reloads cached state after the active World was replaced.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Codec exports and imports Worlds managed by a world.Manager.
type Codec struct {
	m       *world.Manager
	refresh Refresher
	logger  *log.Logger
}

// NewCodec returns a Codec. refresh, if non-nil, runs after importing into
// the connected World.
func NewCodec(m *world.Manager, refresh Refresher, logger *log.Logger) *Codec {
	return &Codec{m: m, refresh: refresh, logger: logging.Component(logger, "transfer")}
}

// =============================================================================
// Export
// =============================================================================

// ExportWorld reads every collection of the named World. Vectors are not
// included. The connected World is read through its session; any other
// World is opened on the side and closed again.
func (c *Codec) ExportWorld(ctx context.Context, name string) (*Document, error) {
	const op = "exportWorld"
	var snap *store.Snapshot
	_, err := c.withWorld(ctx, op, name, false, func(st store.Storer) error {
		var err error
		snap, err = st.Export(ctx)
		return apperr.Wrap(apperr.KindStorage, op, err)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("world exported", "world", name,
		"characters", len(snap.Characters), "messages", len(snap.ChatMessages))
	return &Document{
		Format:     Format,
		Version:    Version,
		World:      name,
		ExportedAt: time.Now().UnixMilli(),
		Snapshot:   snap,
	}, nil
}

// Marshal encodes doc as indented JSON.
func Marshal(doc *Document) ([]byte, error) {
	if doc == nil || doc.Snapshot == nil {
		return nil, errors.New("empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return pretty.Pretty(raw), nil
}

// =============================================================================
// Import
// =============================================================================

// Validate checks the document shape: a JSON object with the four
// collection arrays (of objects) and the config object. Nothing else is
// required; metadata is checked only when present.
func Validate(data []byte) error {
	const op = "importWorld"
	if !gjson.ValidBytes(data) {
		return apperr.Validation(op, "document is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return apperr.Validation(op, "document must be a JSON object")
	}
	for _, col := range collections {
		v := root.Get(col.key)
		switch {
		case !v.Exists():
			return apperr.Validation(op, "missing %q", col.key)
		case col.array && !v.IsArray():
			return apperr.Validation(op, "%q must be an array", col.key)
		case !col.array && !v.IsObject():
			return apperr.Validation(op, "%q must be an object", col.key)
		}
		if !col.array {
			continue
		}
		i, bad := 0, -1
		v.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				bad = i
				return false
			}
			i++
			return true
		})
		if bad >= 0 {
			return apperr.Validation(op, "%s[%d] must be an object", col.key, bad)
		}
	}
	if f := root.Get("format"); f.Exists() && f.String() != Format {
		return apperr.Validation(op, "unknown document format %q", f.String())
	}
	if v := root.Get("version"); v.Exists() && v.Int() > Version {
		return apperr.Validation(op, "document version %d is newer than supported %d", v.Int(), Version)
	}
	return nil
}

// Unmarshal validates data and decodes it. Besides the shape, the
// decoded collections must hold at most one player character and every
// group member must name a character of the document.
func Unmarshal(data []byte) (*Document, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	doc := &Document{Snapshot: &store.Snapshot{}}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, apperr.New(apperr.KindValidation, "importWorld", err)
	}
	if err := checkReferences(doc.Snapshot); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkReferences(snap *store.Snapshot) error {
	const op = "importWorld"
	ids := make(map[string]bool, len(snap.Characters))
	players := 0
	for _, ch := range snap.Characters {
		if ch.ID != "" {
			ids[ch.ID] = true
		}
		if ch.IsPlayer {
			players++
		}
	}
	if players > 1 {
		return apperr.Validation(op, "%d characters are marked as player, at most one is allowed", players)
	}
	for _, g := range snap.Groups {
		for _, id := range g.CharacterIDs {
			if !ids[id] {
				return apperr.Validation(op, "group %q names unknown character %q", g.ID, id)
			}
		}
	}
	return nil
}

// ImportWorld replaces the named World's content with the document,
// creating the World if needed. Nothing is written unless the document
// validates. Importing into the connected World reloads its caches.
func (c *Codec) ImportWorld(ctx context.Context, data []byte, name string) error {
	const op = "importWorld"
	status := c.m.Status()
	status.Begin()

	doc, err := Unmarshal(data)
	if err != nil {
		c.logger.Warn("import rejected", "world", name, "err", err)
		return status.End(err)
	}

	active, err := c.withWorld(ctx, op, name, true, func(st store.Storer) error {
		return apperr.Wrap(apperr.KindStorage, op, st.Import(ctx, doc.Snapshot))
	})
	if err != nil {
		return status.End(err)
	}
	c.logger.Info("world imported", "world", name,
		"characters", len(doc.Characters), "messages", len(doc.ChatMessages))

	if active && c.refresh != nil {
		if err := c.refresh.Refresh(ctx); err != nil {
			return status.End(err)
		}
	}
	return status.End(nil)
}

// withWorld runs fn against the named World's store and reports whether
// that was the connected World's session. fn runs under the session's
// guard and must not call back into the Manager.
func (c *Codec) withWorld(ctx context.Context, op, name string, create bool, fn func(store.Storer) error) (bool, error) {
	if sess := c.m.Session(); sess != nil && sess.Name() == name {
		return true, sess.Do(ctx, op, fn)
	}
	st, err := c.m.OpenDetached(ctx, name, create)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			c.logger.Warn("close detached world", "world", name, "err", cerr)
		}
	}()
	return false, fn(st)
}
