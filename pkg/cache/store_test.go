package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	ID   string
	Name string
}

func newItems() *Store[item] {
	return New(func(i *item) string { return i.ID })
}

func ids(s *Store[item]) []string {
	var out []string
	for _, it := range s.All() {
		out = append(out, it.ID)
	}
	return out
}

func TestUpsertKeepsOrderAndUniqueness(t *testing.T) {
	s := newItems()
	s.Upsert(&item{ID: "a", Name: "A"})
	s.Upsert(&item{ID: "b", Name: "B"})
	s.Upsert(&item{ID: "a", Name: "A2"})

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, []string{"a", "b"}, ids(s))
	assert.Equal(t, "A2", s.Get("a").Name)
}

func TestRemoveReindexes(t *testing.T) {
	s := newItems()
	s.Hydrate([]*item{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, []string{"b", "c"}, ids(s))

	s.Upsert(&item{ID: "c", Name: "C2"})
	assert.Equal(t, "C2", s.Get("c").Name)
	assert.Equal(t, 2, s.Count())
}

func TestHydrateReplacesAndDedupes(t *testing.T) {
	s := newItems()
	s.Upsert(&item{ID: "old"})

	n := s.Hydrate([]*item{{ID: "x", Name: "1"}, {ID: "x", Name: "2"}})
	assert.Equal(t, 1, n)
	assert.Nil(t, s.Get("old"))
	assert.Equal(t, "2", s.Get("x").Name)
}

func TestUpdateAndFind(t *testing.T) {
	s := newItems()
	s.Hydrate([]*item{{ID: "a", Name: "keep"}, {ID: "b", Name: "change"}})

	s.Update(func(i *item) *item {
		if i.Name == "change" {
			return &item{ID: i.ID, Name: "changed"}
		}
		return nil
	})

	assert.Equal(t, "keep", s.Get("a").Name)
	assert.Equal(t, "changed", s.Get("b").Name)
	assert.Equal(t, "b", s.Find(func(i *item) bool { return i.Name == "changed" }).ID)
	assert.Nil(t, s.Find(func(i *item) bool { return false }))
}

func TestClear(t *testing.T) {
	s := newItems()
	s.Upsert(&item{ID: "a"})
	s.Clear()
	assert.Zero(t, s.Count())
	assert.Empty(t, s.All())
}

func TestConcurrentUpserts(t *testing.T) {
	s := newItems()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert(&item{ID: "same"})
			_ = s.All()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Count())
}
