package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
)

type recordingListener struct {
	mu          sync.Mutex
	connects    []string
	disconnects int
	failWith    error
	last        *Session
}

func (r *recordingListener) OnConnect(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, s.Name())
	r.last = s
	return r.failWith
}

func (r *recordingListener) OnDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	r.last = nil
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), "world_", opts...)
	t.Cleanup(func() { m.Disconnect() })
	return m
}

func TestConnectAndDisconnect(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	l := &recordingListener{}
	m.Subscribe(l)

	require.NoError(t, m.Connect(ctx, "alpha"))
	assert.True(t, m.IsConnected())
	name, ok := m.CurrentWorld()
	assert.True(t, ok)
	assert.Equal(t, "alpha", name)
	assert.Equal(t, []string{"alpha"}, l.connects)
	assert.FileExists(t, m.Path("alpha"))

	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Disconnect(), "disconnect is idempotent")
	assert.False(t, m.IsConnected())
	_, ok = m.CurrentWorld()
	assert.False(t, ok)
	assert.Nil(t, m.Session())
}

func TestConnectTwiceGivesFreshSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.Connect(ctx, "alpha"))
	first := m.Session()
	require.NoError(t, m.Connect(ctx, "alpha"))
	second := m.Session()

	assert.Greater(t, second.Generation(), first.Generation())
	assert.False(t, first.Open())
	assert.True(t, second.Open())
}

func TestConnectRollsBackOnListenerFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ok := &recordingListener{}
	bad := &recordingListener{failWith: errors.New("cache load failed")}
	m.Subscribe(ok)
	m.Subscribe(bad)

	err := m.Connect(ctx, "broken")
	require.ErrorIs(t, err, apperr.ErrConnection)
	assert.False(t, m.IsConnected())
	_, connected := m.CurrentWorld()
	assert.False(t, connected)
	assert.Nil(t, ok.last, "listeners must be told to drop state")
	assert.Equal(t, 1, ok.disconnects)
	assert.Error(t, m.Status().Err())
	assert.False(t, m.Status().Loading())
}

func TestConnectRollsBackOnOpenFailure(t *testing.T) {
	m := newTestManager(t, WithOpener(func(context.Context, string) (store.Storer, error) {
		return nil, errors.New("disk on fire")
	}))

	err := m.Connect(context.Background(), "alpha")
	require.ErrorIs(t, err, apperr.ErrConnection)
	assert.False(t, m.IsConnected())
}

func TestConnectRejectsBadName(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"", "  ", "../escape", "a/b"} {
		err := m.Connect(context.Background(), name)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
}

func TestListWorlds(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	names, err := m.ListWorlds()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, m.Connect(ctx, "beta"))
	require.NoError(t, m.Connect(ctx, "alpha"))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(m.Path("x")), "notes.txt"), []byte("x"), 0o644))

	names, err = m.ListWorlds()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestListWorldsUnavailable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	m := NewManager(file, "world_")
	_, err := m.ListWorlds()
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestDeleteWorldDisconnectsActive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Connect(ctx, "doomed"))

	require.NoError(t, m.DeleteWorld("doomed"))
	assert.False(t, m.IsConnected())
	assert.NoFileExists(t, m.Path("doomed"))

	assert.ErrorIs(t, m.DeleteWorld("doomed"), apperr.ErrNotFound)
}

func TestOpenDetached(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.OpenDetached(ctx, "ghost", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	st, err := m.OpenDetached(ctx, "ghost", true)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.True(t, m.Exists("ghost"))
}

func TestStaleSessionRejectsWork(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Connect(ctx, "alpha"))
	old := m.Session()
	require.NoError(t, m.Disconnect())

	called := false
	err := old.Do(ctx, "saveCharacter", func(store.Storer) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrStaleSession)
	assert.False(t, called)
}

func TestDisconnectWaitsForInFlightWork(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Connect(ctx, "alpha"))
	sess := m.Session()

	started := make(chan struct{})
	release := make(chan struct{})
	wrote := make(chan error, 1)
	go func() {
		wrote <- sess.Do(ctx, "addMessage", func(st store.Storer) error {
			close(started)
			<-release
			return st.AddMessage(ctx, &store.ChatMessage{SessionID: "s", Content: "late"})
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("disconnect returned while an operation was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	assert.NoError(t, <-wrote, "in-flight write completes against the open handle")
}

func TestSyncConnectionState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	assert.False(t, m.SyncConnectionState())

	require.NoError(t, m.Connect(ctx, "alpha"))
	sess := m.Session()

	// Simulate drift: the handle closes behind the manager's back.
	require.NoError(t, sess.close())
	assert.False(t, m.IsConnected())
	assert.False(t, m.SyncConnectionState())
	assert.Nil(t, m.Session())
}

func TestStatusLifecycle(t *testing.T) {
	s := NewStatus()
	s.Begin()
	assert.True(t, s.Loading())
	assert.Error(t, s.End(errors.New("boom")))
	assert.False(t, s.Loading())
	assert.EqualError(t, s.Err(), "boom")

	s.Begin()
	assert.NoError(t, s.Err(), "error slot clears at start of every operation")
	s.End(nil)

	s.End(errors.New("again"))
	s.ClearError()
	assert.NoError(t, s.Err())
}

type stubCatalog struct {
	FileCatalog
	listErr error
}

func (c stubCatalog) List() ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.FileCatalog.List()
}

func TestCustomCatalog(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("ignored", "ignored_", WithCatalog(stubCatalog{FileCatalog: FileCatalog{Dir: dir, Prefix: "w-"}}))
	t.Cleanup(func() { m.Disconnect() })

	require.NoError(t, m.Connect(context.Background(), "one"))
	assert.FileExists(t, filepath.Join(dir, "w-one.db"))
	names, err := m.ListWorlds()
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, names)

	broken := NewManager("", "", WithCatalog(stubCatalog{listErr: errors.New("quota")}))
	_, err = broken.ListWorlds()
	assert.Equal(t, apperr.KindStorageUnavailable, apperr.KindOf(err))
}
