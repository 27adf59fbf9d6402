// Package world manages which World is open. Exactly one World is active
// per Manager; switching Worlds is disconnect-then-connect.
package world

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
)

// Listener is notified of connection changes. OnConnect runs inside
// Connect; a non-nil error aborts the connect and rolls it back.
// OnDisconnect must drop every reference to the previous Session.
type Listener interface {
	OnConnect(ctx context.Context, s *Session) error
	OnDisconnect()
}

// Opener opens (creating if absent) the store at path.
type Opener func(ctx context.Context, path string) (store.Storer, error)

func defaultOpener(ctx context.Context, path string) (store.Storer, error) {
	return store.Open(ctx, path)
}

// Manager is the World connection manager.
type Manager struct {
	mu        sync.Mutex
	catalog   Catalog
	open      Opener
	logger    *log.Logger
	status    *Status
	listeners []Listener

	session *Session
	current string
	gen     uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = logging.Component(l, "world") }
}

// WithStatus shares a Status with other components.
func WithStatus(s *Status) Option {
	return func(m *Manager) { m.status = s }
}

// WithOpener replaces how stores are opened.
func WithOpener(o Opener) Option {
	return func(m *Manager) { m.open = o }
}

// WithCatalog replaces the file catalog, e.g. with one for in-memory
// stores.
func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// NewManager creates a Manager for world files named <prefix><name>.db
// under dataDir.
func NewManager(dataDir, prefix string, opts ...Option) *Manager {
	m := &Manager{
		catalog: FileCatalog{Dir: dataDir, Prefix: prefix},
		open:    defaultOpener,
		logger:  logging.Discard(),
		status:  NewStatus(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers l for connection changes. Listeners are called in
// registration order on connect and in reverse order on disconnect.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns the shared loading/error status.
func (m *Manager) Status() *Status { return m.status }

// Path returns where a World's store lives.
func (m *Manager) Path(name string) string {
	return m.catalog.Path(name)
}

// Exists reports whether a World has a store.
func (m *Manager) Exists(name string) bool {
	if validateName(name) != nil {
		return false
	}
	return m.catalog.Exists(name)
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("world name is empty")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return fmt.Errorf("world name %q contains a path separator", name)
	}
	return nil
}

// =============================================================================
// Connection lifecycle
// =============================================================================

// Connect opens (creating if absent) the named World, makes it active and
// notifies listeners so caches reload and the vector pipeline
// reinitialises. A previously active World is disconnected first. On any
// failure the manager is left disconnected.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.status.Begin()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateName(name); err != nil {
		return m.status.End(apperr.New(apperr.KindValidation, "connect", err))
	}

	m.disconnectLocked()

	if err := m.catalog.Prepare(); err != nil {
		return m.status.End(apperr.New(apperr.KindConnection, "connect", err))
	}

	st, err := m.open(ctx, m.Path(name))
	if err != nil {
		m.logger.Error("failed to open world", "world", name, "err", err)
		return m.status.End(apperr.New(apperr.KindConnection, "connect",
			fmt.Errorf("open world %q: %w", name, err)))
	}

	m.gen++
	sess := newSession(name, m.gen, st)
	m.session = sess
	m.current = name

	for _, l := range m.listeners {
		if err := l.OnConnect(ctx, sess); err != nil {
			m.logger.Error("connect aborted, rolling back", "world", name, "err", err)
			m.disconnectLocked()
			return m.status.End(apperr.New(apperr.KindConnection, "connect",
				fmt.Errorf("load world %q: %w", name, err)))
		}
	}

	m.logger.Info("connected", "world", name, "generation", sess.gen, "schema", st.SchemaVersion())
	return m.status.End(nil)
}

// Disconnect closes the active World and clears every listener's state.
// Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	sess := m.session
	m.session = nil
	m.current = ""
	if sess == nil {
		return nil
	}

	// Close first: in-flight operations drain and may still touch the
	// caches, which the listeners then wipe.
	closeErr := sess.close()

	for i := len(m.listeners) - 1; i >= 0; i-- {
		m.listeners[i].OnDisconnect()
	}

	if closeErr != nil {
		m.logger.Warn("close world", "world", sess.name, "err", closeErr)
		return apperr.New(apperr.KindStorage, "disconnect", closeErr)
	}
	m.logger.Info("disconnected", "world", sess.name)
	return nil
}

// Session returns the active Session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// CurrentWorld returns the active World name and whether one is active.
func (m *Manager) CurrentWorld() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connectedLocked() {
		return "", false
	}
	return m.current, true
}

// IsConnected reports whether an open store handle and a World name are
// both present.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedLocked()
}

func (m *Manager) connectedLocked() bool {
	return m.session != nil && m.session.Open() && m.current != ""
}

// SyncConnectionState re-derives the connection state from the session
// handle and name, dropping a session whose handle is gone. Returns the
// resulting connected state.
func (m *Manager) SyncConnectionState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.session == nil:
		m.current = ""
	case !m.session.Open():
		m.logger.Warn("dropping closed session", "world", m.session.name)
		m.disconnectLocked()
	case m.current == "":
		m.current = m.session.name
	case m.current != m.session.name:
		m.logger.Warn("world name drifted from session", "name", m.current, "session", m.session.name)
		m.current = m.session.name
	}
	return m.connectedLocked()
}

// =============================================================================
// World files
// =============================================================================

// ListWorlds returns the names of every World in the catalog, sorted.
func (m *Manager) ListWorlds() ([]string, error) {
	names, err := m.catalog.List()
	if err != nil {
		return nil, apperr.New(apperr.KindStorageUnavailable, "listWorlds", err)
	}
	return names, nil
}

// OpenDetached opens a World's store outside the active session, for
// export and import of Worlds that are not connected. The caller closes
// it. Without create, a missing World is a NotFound error.
func (m *Manager) OpenDetached(ctx context.Context, name string, create bool) (store.Storer, error) {
	if err := validateName(name); err != nil {
		return nil, apperr.New(apperr.KindValidation, "openWorld", err)
	}
	if !create && !m.Exists(name) {
		return nil, apperr.New(apperr.KindNotFound, "openWorld", fmt.Errorf("world %q", name))
	}
	if err := m.catalog.Prepare(); err != nil {
		return nil, apperr.New(apperr.KindConnection, "openWorld", err)
	}
	st, err := m.open(ctx, m.Path(name))
	if err != nil {
		return nil, apperr.New(apperr.KindConnection, "openWorld", err)
	}
	return st, nil
}

// DeleteWorld removes a World's store, disconnecting first if it is the
// active World.
func (m *Manager) DeleteWorld(name string) error {
	m.status.Begin()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateName(name); err != nil {
		return m.status.End(apperr.New(apperr.KindValidation, "deleteWorld", err))
	}
	if !m.catalog.Exists(name) {
		return m.status.End(apperr.New(apperr.KindNotFound, "deleteWorld", fmt.Errorf("world %q", name)))
	}

	if m.session != nil && m.session.name == name {
		m.disconnectLocked()
	}

	if err := m.catalog.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m.status.End(apperr.New(apperr.KindNotFound, "deleteWorld", fmt.Errorf("world %q", name)))
		}
		return m.status.End(apperr.New(apperr.KindStorage, "deleteWorld", err))
	}
	m.logger.Info("deleted world", "world", name)
	return m.status.End(nil)
}
