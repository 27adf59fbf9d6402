package repo

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

// Groups is the group repository.
type Groups struct {
	*Repository[store.Group, *store.Group]

	characters func() *Characters
}

func newGroups(b *binding, status *world.Status, logger *log.Logger) *Groups {
	return &Groups{
		Repository: newRepository[store.Group, *store.Group]("Group", b, status, logger, accessor[store.Group]{
			list: func(ctx context.Context, st store.Storer) ([]*store.Group, error) {
				return st.ListGroups(ctx)
			},
			get: func(ctx context.Context, st store.Storer, id string) (*store.Group, error) {
				return st.GetGroup(ctx, id)
			},
			upsert: func(ctx context.Context, st store.Storer, g *store.Group) error {
				return st.UpsertGroup(ctx, g)
			},
			remove: func(ctx context.Context, st store.Storer, id string) error {
				return st.DeleteGroup(ctx, id)
			},
		}),
	}
}

// GroupCharacters resolves a group's members against the character cache,
// in group order. Unknown ids are skipped.
func (g *Groups) GroupCharacters(groupID string) []*store.Character {
	grp := g.cache.Get(groupID)
	if grp == nil || g.characters == nil {
		return []*store.Character{}
	}
	chars := g.characters()
	out := make([]*store.Character, 0, len(grp.CharacterIDs))
	for _, id := range grp.CharacterIDs {
		if ch := chars.cache.Get(id); ch != nil {
			out = append(out, ch.Clone())
		}
	}
	return out
}
