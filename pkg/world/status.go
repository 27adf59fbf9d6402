package world

import "sync"

// Status is the process-wide loading flag and advisory error slot shown
// by the UI. It never gates calls.
type Status struct {
	mu      sync.RWMutex
	pending int
	lastErr error
}

// NewStatus returns an idle Status.
func NewStatus() *Status {
	return &Status{}
}

// Begin marks the start of a mutating operation and clears the error slot.
func (s *Status) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending++
	s.lastErr = nil
}

// End marks the end of an operation begun with Begin, recording err if
// non-nil. It returns err unchanged so callers can write
// `return status.End(err)`.
func (s *Status) End(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
	if err != nil {
		s.lastErr = err
	}
	return err
}

// Loading reports whether any mutating operation is in progress.
func (s *Status) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// Err returns the most recent error, or nil.
func (s *Status) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ClearError empties the error slot.
func (s *Status) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}
