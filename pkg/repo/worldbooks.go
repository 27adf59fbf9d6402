package repo

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
	"github.com/34892002/3000World/pkg/worldbook"
)

// Worldbooks is the worldbook repository. It keeps a compiled keyword
// matcher over the cached entries, rebuilt lazily after any change.
type Worldbooks struct {
	*Repository[store.WorldbookEntry, *store.WorldbookEntry]

	mu      sync.Mutex
	matcher *worldbook.Matcher
	version uint64 // bumped on every cache change
	built   uint64
}

func newWorldbooks(b *binding, status *world.Status, logger *log.Logger) *Worldbooks {
	w := &Worldbooks{}
	w.Repository = newRepository[store.WorldbookEntry, *store.WorldbookEntry]("Worldbook", b, status, logger, accessor[store.WorldbookEntry]{
		list: func(ctx context.Context, st store.Storer) ([]*store.WorldbookEntry, error) {
			return st.ListWorldbooks(ctx)
		},
		get: func(ctx context.Context, st store.Storer, id string) (*store.WorldbookEntry, error) {
			return st.GetWorldbook(ctx, id)
		},
		upsert: func(ctx context.Context, st store.Storer, e *store.WorldbookEntry) error {
			now := time.Now().UnixMilli()
			if e.CreatedAt == 0 && e.ID != "" {
				prev, err := st.GetWorldbook(ctx, e.ID)
				if err != nil {
					return err
				}
				if prev != nil {
					e.CreatedAt = prev.CreatedAt
				}
			}
			if e.CreatedAt == 0 {
				e.CreatedAt = now
			}
			e.UpdatedAt = now
			return st.UpsertWorldbook(ctx, e)
		},
		remove: func(ctx context.Context, st store.Storer, id string) error {
			return st.DeleteWorldbook(ctx, id)
		},
	})
	w.afterSave = func(*store.WorldbookEntry) { w.invalidate() }
	return w
}

// LoadAll reloads the entries and drops the compiled matcher.
func (w *Worldbooks) LoadAll(ctx context.Context) ([]*store.WorldbookEntry, error) {
	defer w.invalidate()
	return w.Repository.LoadAll(ctx)
}

// Delete removes an entry and drops the compiled matcher.
func (w *Worldbooks) Delete(ctx context.Context, id string) error {
	defer w.invalidate()
	return w.Repository.Delete(ctx, id)
}

// GetByID is Repository.GetByID; a read-through that adds an entry drops
// the compiled matcher.
func (w *Worldbooks) GetByID(ctx context.Context, id string) (*store.WorldbookEntry, error) {
	before := w.Count()
	e, err := w.Repository.GetByID(ctx, id)
	if w.Count() != before {
		w.invalidate()
	}
	return e, err
}

func (w *Worldbooks) invalidate() {
	w.mu.Lock()
	w.version++
	w.mu.Unlock()
}

func (w *Worldbooks) reset() {
	w.Repository.reset()
	w.invalidate()
}

// Triggered returns copies of the cached entries whose keywords occur in
// text, in cache order. It never reads the store.
func (w *Worldbooks) Triggered(text string) []*store.WorldbookEntry {
	w.mu.Lock()
	if w.matcher == nil || w.built != w.version {
		entries := w.All()
		m, err := worldbook.Compile(entries)
		if err != nil {
			w.mu.Unlock()
			w.logger.Warn("worldbook matcher build failed, scanning linearly", "err", err)
			return worldbook.Match(entries, text)
		}
		w.matcher = m
		w.built = w.version
	}
	m := w.matcher
	w.mu.Unlock()

	hits := m.Match(text)
	for i, e := range hits {
		hits[i] = e.Clone()
	}
	return hits
}
