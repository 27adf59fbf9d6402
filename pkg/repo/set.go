package repo

import (
	"context"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

// Options configures a Set.
type Options struct {
	// DropEmptyGroups deletes groups whose last member was deleted
	// instead of keeping them empty.
	DropEmptyGroups bool
	// Sink receives every saved chat message (the vector pipeline).
	Sink   MessageSink
	Logger *log.Logger
}

// Set is every repository of the active World. It is a world.Listener:
// connecting reloads all mirrors, disconnecting empties them.
type Set struct {
	Characters *Characters
	Groups     *Groups
	Worldbooks *Worldbooks
	Config     *ConfigRepo
	Chat       *ChatHistory

	b      *binding
	status *world.Status
	logger *log.Logger
}

// NewSet creates the repositories, sharing status with the manager.
func NewSet(status *world.Status, opts Options) *Set {
	logger := logging.Component(opts.Logger, "repo")
	b := &binding{}

	groups := newGroups(b, status, logger)
	s := &Set{
		Groups:     groups,
		Characters: newCharacters(b, status, logger, groups, opts.DropEmptyGroups),
		Worldbooks: newWorldbooks(b, status, logger),
		Config:     newConfigRepo(b, status, logger),
		Chat:       newChatHistory(b, status, logger, opts.Sink),
		b:          b,
		status:     status,
		logger:     logger,
	}
	groups.characters = func() *Characters { return s.Characters }
	return s
}

// OnConnect binds the repositories to sess and loads every collection.
// The mirrors are filled only once all reads succeeded.
func (s *Set) OnConnect(ctx context.Context, sess *world.Session) error {
	s.b.set(sess)
	if err := s.reload(ctx, sess); err != nil {
		s.b.set(nil)
		s.clear()
		return err
	}
	return nil
}

// OnDisconnect unbinds the repositories and empties every mirror.
func (s *Set) OnDisconnect() {
	s.b.set(nil)
	s.clear()
}

// Refresh reloads every mirror from the store. No-op when disconnected.
func (s *Set) Refresh(ctx context.Context) error {
	sess, err := s.b.current("refresh")
	if err != nil {
		return nil
	}
	s.status.Begin()
	return s.status.End(s.reload(ctx, sess))
}

func (s *Set) reload(ctx context.Context, sess *world.Session) error {
	var (
		chars  []*store.Character
		groups []*store.Group
		books  []*store.WorldbookEntry
		cfg    store.Config
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chars, err = s.Characters.fetch(gctx, sess)
		return err
	})
	g.Go(func() (err error) {
		groups, err = s.Groups.fetch(gctx, sess)
		return err
	})
	g.Go(func() (err error) {
		books, err = s.Worldbooks.fetch(gctx, sess)
		return err
	})
	g.Go(func() error {
		return sess.Do(gctx, "loadConfig", func(st store.Storer) error {
			var err error
			cfg, err = st.LoadConfig(gctx)
			return apperr.Wrap(apperr.KindStorage, "loadConfig", err)
		})
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("reload failed", "world", sess.Name(), "err", err)
		return err
	}

	// Hydrate under the session so a concurrent disconnect cannot
	// interleave with a half-filled mirror.
	return sess.Do(ctx, "reload", func(store.Storer) error {
		s.Characters.cache.Hydrate(chars)
		s.Groups.cache.Hydrate(groups)
		s.Worldbooks.cache.Hydrate(books)
		s.Worldbooks.invalidate()
		s.Config.set(cfg)
		s.logger.Info("world loaded", "world", sess.Name(),
			"characters", len(chars), "groups", len(groups), "worldbooks", len(books))
		return nil
	})
}

func (s *Set) clear() {
	s.Characters.reset()
	s.Groups.reset()
	s.Worldbooks.reset()
	s.Config.reset()
}

// Connected reports whether the repositories are bound to a Session.
func (s *Set) Connected() bool {
	_, err := s.b.current("")
	return err == nil
}
