package world

import (
	"context"
	"sync"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
)

// Session is one connection to one World. Each connect produces a new
// Session with a higher generation number; once closed, a Session never
// reopens, so work queued against it fails instead of landing in the
// next World.
type Session struct {
	mu     sync.RWMutex
	name   string
	gen    uint64
	st     store.Storer
	closed bool
}

func newSession(name string, gen uint64, st store.Storer) *Session {
	return &Session{name: name, gen: gen, st: st}
}

// Name returns the World name.
func (s *Session) Name() string { return s.name }

// Generation returns the connect counter value this Session was created at.
func (s *Session) Generation() uint64 { return s.gen }

// Open reports whether the Session still holds an open store handle.
func (s *Session) Open() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.st != nil
}

// SchemaVersion returns the schema version of the underlying store, or 0
// once closed.
func (s *Session) SchemaVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.st.SchemaVersion()
}

// Do runs fn against the store. Close waits for every running Do to
// return; Do on a closed Session fails with a StaleSession error without
// calling fn.
func (s *Session) Do(ctx context.Context, op string, fn func(store.Storer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperr.New(apperr.KindStaleSession, op, nil)
	}
	return fn(s.st)
}

// close marks the Session stale and closes the store handle once
// in-flight operations drain. Safe to call more than once.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.st.Close()
}
