package vectormem

import (
	"context"
	"errors"
	"strings"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
)

// Recall returns up to k stored messages closest to text, optionally
// limited to one chat session. It returns no results when the index is
// not available.
func (p *Pipeline) Recall(ctx context.Context, text string, k int, sessionID string) ([]*store.VectorMatch, error) {
	if strings.TrimSpace(text) == "" || k <= 0 {
		return []*store.VectorMatch{}, nil
	}
	sess := p.bound()
	if sess == nil {
		return []*store.VectorMatch{}, nil
	}
	idx, err := p.ready(ctx, sess)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStaleSession {
			return nil, err
		}
		return []*store.VectorMatch{}, nil
	}

	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var out []*store.VectorMatch
	err = sess.Do(ctx, "recall", func(store.Storer) error {
		var err error
		out, err = idx.Search(ctx, vec, k, sessionID)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndex, "recall", err)
	}
	if out == nil {
		out = []*store.VectorMatch{}
	}
	return out, nil
}

// Count returns the number of stored vectors, or 0 when unavailable.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	sess := p.bound()
	if sess == nil {
		return 0, nil
	}
	idx, err := p.ready(ctx, sess)
	if err != nil {
		return 0, nil
	}
	var n int
	err = sess.Do(ctx, "countVectors", func(store.Storer) error {
		var err error
		n, err = idx.Count(ctx)
		return err
	})
	return n, apperr.Wrap(apperr.KindIndex, "countVectors", err)
}

// ReindexResult summarises a Reindex run.
type ReindexResult struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"` // empty content, or deleted while running
	Failed  int `json:"failed"`
}

// Reindex rebuilds vectors for every chat message of the World, in the
// foreground. Per-message failures are logged and counted, not returned.
// progress, if non-nil, is called after each message.
func (p *Pipeline) Reindex(ctx context.Context, progress func(done, total int)) (ReindexResult, error) {
	var res ReindexResult

	sess := p.bound()
	if sess == nil {
		return res, apperr.New(apperr.KindConnection, "reindex", errNotConnected)
	}
	idx, err := p.ready(ctx, sess)
	if err != nil {
		return res, apperr.Wrap(apperr.KindIndex, "reindex", err)
	}

	var msgs []*store.ChatMessage
	if err := sess.Do(ctx, "reindex", func(st store.Storer) error {
		var err error
		msgs, err = st.ListAllMessages(ctx)
		return err
	}); err != nil {
		return res, apperr.Wrap(apperr.KindStorage, "reindex", err)
	}

	res.Total = len(msgs)
	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch {
		case strings.TrimSpace(m.Content) == "":
			res.Skipped++
		default:
			err := p.vectorizeWith(ctx, sess, idx, m)
			switch {
			case errors.Is(err, store.ErrMessageGone):
				res.Skipped++
			case err != nil:
				res.Failed++
				p.logger.Warn("reindex message failed", "message_id", m.ID, "world", sess.Name(), "err", err)
			default:
				res.Indexed++
			}
		}
		if progress != nil {
			progress(i+1, res.Total)
		}
	}
	p.logger.Info("reindex finished", "world", sess.Name(), "indexed", res.Indexed, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}
