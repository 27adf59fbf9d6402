// Package repo keeps an in-memory mirror of each World collection in step
// with the store. Reads are served from the mirror; writes go to the store
// first and touch the mirror only after the store accepted them.
package repo

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/cache"
	"github.com/34892002/3000World/pkg/world"
)

var errNotConnected = errors.New("no world connected")

// binding is the Session every repository of a Set works against.
type binding struct {
	mu   sync.RWMutex
	sess *world.Session
}

func (b *binding) set(s *world.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sess = s
}

func (b *binding) current(op string) (*world.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return nil, apperr.New(apperr.KindConnection, op, errNotConnected)
	}
	return b.sess, nil
}

// Entity is what a Repository can hold.
type Entity[T any] interface {
	*T
	Key() string
	SetKey(id string)
	Clone() *T
}

// accessor is the slice of store.Storer one collection needs.
type accessor[T any] struct {
	list   func(ctx context.Context, st store.Storer) ([]*T, error)
	get    func(ctx context.Context, st store.Storer, id string) (*T, error)
	upsert func(ctx context.Context, st store.Storer, item *T) error
	remove func(ctx context.Context, st store.Storer, id string) error
}

// Repository is the cache-backed CRUD contract shared by every entity
// collection.
type Repository[T any, P Entity[T]] struct {
	name   string
	b      *binding
	status *world.Status
	logger *log.Logger
	cache  *cache.Store[T]
	acc    accessor[T]

	// afterSave runs under the session after the cache took the saved item.
	afterSave func(saved *T)
}

func newRepository[T any, P Entity[T]](name string, b *binding, status *world.Status, logger *log.Logger, acc accessor[T]) *Repository[T, P] {
	return &Repository[T, P]{
		name:   name,
		b:      b,
		status: status,
		logger: logger,
		cache:  cache.New(func(t *T) string { return P(t).Key() }),
		acc:    acc,
	}
}

// LoadAll replaces the mirror with the store content and returns it.
func (r *Repository[T, P]) LoadAll(ctx context.Context) ([]*T, error) {
	r.status.Begin()
	items, err := r.loadAll(ctx)
	return items, r.status.End(err)
}

func (r *Repository[T, P]) loadAll(ctx context.Context) ([]*T, error) {
	op := "load" + r.name
	sess, err := r.b.current(op)
	if err != nil {
		return nil, err
	}
	var items []*T
	err = sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		if items, err = r.acc.list(ctx, st); err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		r.cache.Hydrate(items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.All(), nil
}

// fetch reads the collection without touching the mirror.
func (r *Repository[T, P]) fetch(ctx context.Context, sess *world.Session) ([]*T, error) {
	op := "load" + r.name
	var items []*T
	err := sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		items, err = r.acc.list(ctx, st)
		return apperr.Wrap(apperr.KindStorage, op, err)
	})
	return items, err
}

// Save writes item and returns its id. An item without an id gets one
// from the store, which is also written back into item. The mirror ends
// up holding exactly one copy of the item.
func (r *Repository[T, P]) Save(ctx context.Context, item *T) (string, error) {
	r.status.Begin()
	id, err := r.save(ctx, item)
	return id, r.status.End(err)
}

func (r *Repository[T, P]) save(ctx context.Context, item *T) (string, error) {
	op := "save" + r.name
	if item == nil {
		return "", apperr.Validation(op, "nil %s", r.name)
	}
	sess, err := r.b.current(op)
	if err != nil {
		return "", err
	}

	cp := P(item).Clone()
	err = sess.Do(ctx, op, func(st store.Storer) error {
		if err := r.acc.upsert(ctx, st, cp); err != nil {
			if errors.Is(err, store.ErrDanglingReference) {
				return apperr.New(apperr.KindValidation, op, err)
			}
			return apperr.New(apperr.KindStorage, op, err)
		}
		r.cache.Upsert(cp)
		if r.afterSave != nil {
			r.afterSave(cp)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("save failed", "collection", r.name, "err", err)
		return "", err
	}

	P(item).SetKey(P(cp).Key())
	return P(cp).Key(), nil
}

// GetByID returns the item from the mirror, falling back to the store on
// a miss and caching what it finds. A missing item is (nil, nil).
func (r *Repository[T, P]) GetByID(ctx context.Context, id string) (*T, error) {
	if it := r.cache.Get(id); it != nil {
		return P(it).Clone(), nil
	}

	op := "get" + r.name
	sess, err := r.b.current(op)
	if err != nil {
		return nil, err
	}
	var found *T
	err = sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		if found, err = r.acc.get(ctx, st, id); err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		if found != nil {
			r.cache.Upsert(found)
		}
		return nil
	})
	if err != nil || found == nil {
		return nil, err
	}
	return P(found).Clone(), nil
}

// Delete removes the item from the store and the mirror.
func (r *Repository[T, P]) Delete(ctx context.Context, id string) error {
	r.status.Begin()
	return r.status.End(r.delete(ctx, id))
}

func (r *Repository[T, P]) delete(ctx context.Context, id string) error {
	op := "delete" + r.name
	sess, err := r.b.current(op)
	if err != nil {
		return err
	}
	return sess.Do(ctx, op, func(st store.Storer) error {
		if err := r.acc.remove(ctx, st, id); err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		r.cache.Remove(id)
		return nil
	})
}

// All returns copies of the mirrored items in insertion order.
func (r *Repository[T, P]) All() []*T {
	items := r.cache.All()
	out := make([]*T, len(items))
	for i, it := range items {
		out[i] = P(it).Clone()
	}
	return out
}

// Count returns the number of mirrored items.
func (r *Repository[T, P]) Count() int {
	return r.cache.Count()
}

func (r *Repository[T, P]) reset() {
	r.cache.Clear()
}
