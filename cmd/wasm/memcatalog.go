//go:build js && wasm

package main

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/ncruces/go-sqlite3/vfs/memdb"

	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

var _ world.Catalog = (*memCatalog)(nil)

// memCatalog keeps Worlds in SQLite memdb databases. The browser has no
// file system; the page persists Worlds through exportWorld/importWorld.
type memCatalog struct {
	prefix string

	mu    sync.Mutex
	names map[string]bool
}

func newMemCatalog(prefix string) *memCatalog {
	return &memCatalog{prefix: prefix, names: map[string]bool{}}
}

func (c *memCatalog) dbName(name string) string { return c.prefix + name + ".db" }

func (c *memCatalog) Path(name string) string {
	return "file:/" + c.dbName(name) + "?vfs=memdb"
}

func (c *memCatalog) Prepare() error { return nil }

func (c *memCatalog) List() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (c *memCatalog) Exists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[name]
}

func (c *memCatalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.names[name] {
		return fs.ErrNotExist
	}
	memdb.Delete(c.dbName(name))
	delete(c.names, name)
	return nil
}

// open creates the memdb database on first use, then opens it. The
// database outlives its connections until Remove.
func (c *memCatalog) open(ctx context.Context, path string) (store.Storer, error) {
	db := strings.TrimPrefix(path, "file:/")
	if i := strings.IndexByte(db, '?'); i >= 0 {
		db = db[:i]
	}
	name := strings.TrimSuffix(strings.TrimPrefix(db, c.prefix), ".db")

	c.mu.Lock()
	if !c.names[name] {
		memdb.Create(db, nil)
		c.names[name] = true
	}
	c.mu.Unlock()

	return store.Open(ctx, path)
}
