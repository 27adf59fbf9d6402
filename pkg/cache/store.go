// Package cache provides the in-memory mirror of a World's collections.
// Collections are hydrated once on connect, then kept in step with the
// store by the repositories after every successful write.
package cache

import (
	"sync"
)

// Store holds one collection in memory, ordered by first insertion and
// indexed by id. Thread-safe.
//
// Items are held by pointer; callers must not mutate what Get or All
// return.
type Store[T any] struct {
	mu    sync.RWMutex
	key   func(*T) string
	index map[string]int
	items []*T
}

// New creates an empty store. key extracts the id of an item.
func New[T any](key func(*T) string) *Store[T] {
	return &Store[T]{
		key:   key,
		index: make(map[string]int),
	}
}

// Hydrate replaces the whole collection.
// Called on connect with everything read from the store.
func (s *Store[T]) Hydrate(items []*T) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]*T, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, it := range items {
		s.upsertLocked(it)
	}
	return len(s.items)
}

// Upsert replaces the item with the same id in place, or appends it.
// The collection never holds two items with the same id.
func (s *Store[T]) Upsert(item *T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertLocked(item)
}

func (s *Store[T]) upsertLocked(item *T) {
	id := s.key(item)
	if i, ok := s.index[id]; ok {
		s.items[i] = item
		return
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, item)
}

// Remove deletes an item. Reports whether it was present.
func (s *Store[T]) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.key(s.items[j])] = j
	}
	return true
}

// Update applies fn to every item under the write lock. fn returns the
// replacement item, or nil to keep the current one.
func (s *Store[T]) Update(fn func(*T) *T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, it := range s.items {
		if repl := fn(it); repl != nil {
			s.items[i] = repl
		}
	}
}

// Get retrieves an item by id. Returns nil if not found.
func (s *Store[T]) Get(id string) *T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.index[id]; ok {
		return s.items[i]
	}
	return nil
}

// All returns the items in insertion order.
func (s *Store[T]) All() []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*T, len(s.items))
	copy(out, s.items)
	return out
}

// Find returns the first item matching pred, or nil.
func (s *Store[T]) Find(pred func(*T) bool) *T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items {
		if pred(it) {
			return it
		}
	}
	return nil
}

// Count returns the number of items.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

// Clear removes all items.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.index = make(map[string]int)
}
