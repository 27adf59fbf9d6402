package repo

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

// Characters is the character repository. It keeps at most one player
// character and repairs group membership on delete.
type Characters struct {
	*Repository[store.Character, *store.Character]

	groups    *Groups
	dropEmpty bool
}

func newCharacters(b *binding, status *world.Status, logger *log.Logger, groups *Groups, dropEmpty bool) *Characters {
	c := &Characters{
		Repository: newRepository[store.Character, *store.Character]("Character", b, status, logger, accessor[store.Character]{
			list: func(ctx context.Context, st store.Storer) ([]*store.Character, error) {
				return st.ListCharacters(ctx)
			},
			get: func(ctx context.Context, st store.Storer, id string) (*store.Character, error) {
				return st.GetCharacter(ctx, id)
			},
			upsert: func(ctx context.Context, st store.Storer, c *store.Character) error {
				return st.UpsertCharacter(ctx, c)
			},
		}),
		groups:    groups,
		dropEmpty: dropEmpty,
	}
	c.afterSave = c.clearOtherPlayers
	return c
}

// clearOtherPlayers mirrors the store's player reset in the cache.
func (c *Characters) clearOtherPlayers(saved *store.Character) {
	if !saved.IsPlayer {
		return
	}
	c.cache.Update(func(ch *store.Character) *store.Character {
		if ch.ID == saved.ID || !ch.IsPlayer {
			return nil
		}
		cp := ch.Clone()
		cp.IsPlayer = false
		return cp
	})
}

// Delete removes a character and takes it out of every group in the same
// store transaction. Groups left empty are deleted or kept according to
// the repository's policy.
func (c *Characters) Delete(ctx context.Context, id string) error {
	c.status.Begin()
	return c.status.End(c.deleteCascade(ctx, id))
}

func (c *Characters) deleteCascade(ctx context.Context, id string) error {
	const op = "deleteCharacter"
	sess, err := c.b.current(op)
	if err != nil {
		return err
	}
	return sess.Do(ctx, op, func(st store.Storer) error {
		removal, err := st.DeleteCharacter(ctx, id, c.dropEmpty)
		if err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		c.cache.Remove(id)
		for _, g := range removal.UpdatedGroups {
			c.groups.cache.Upsert(g)
		}
		for _, gid := range removal.DeletedGroups {
			c.groups.cache.Remove(gid)
		}
		c.logger.Debug("character deleted", "id", id,
			"groups_updated", len(removal.UpdatedGroups), "groups_deleted", len(removal.DeletedGroups))
		return nil
	})
}

// PlayerCharacter returns the player character, or nil if none is set.
func (c *Characters) PlayerCharacter() *store.Character {
	if p := c.cache.Find(func(ch *store.Character) bool { return ch.IsPlayer }); p != nil {
		return p.Clone()
	}
	return nil
}

// AvailableCharacters returns every non-player character in cache order.
func (c *Characters) AvailableCharacters() []*store.Character {
	all := c.All()
	out := make([]*store.Character, 0, len(all))
	for _, ch := range all {
		if !ch.IsPlayer {
			out = append(out, ch)
		}
	}
	return out
}
