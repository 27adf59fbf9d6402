package vectormem

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/embedding"
	"github.com/34892002/3000World/pkg/repo"
	"github.com/34892002/3000World/pkg/world"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	m     *world.Manager
	repos *repo.Set
	p     *Pipeline
	emb   *embedding.Mock
	logs  *syncBuffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{emb: embedding.NewMock(16), logs: &syncBuffer{}}
	logger := logging.New(f.logs, "debug")

	p, err := New(f.emb, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	f.p = p

	status := world.NewStatus()
	f.m = world.NewManager(t.TempDir(), "world_", world.WithStatus(status), world.WithLogger(logger))
	f.repos = repo.NewSet(status, repo.Options{Sink: p, Logger: logger})
	f.m.Subscribe(f.repos)
	f.m.Subscribe(p)
	t.Cleanup(func() {
		p.Wait()
		f.m.Disconnect()
	})
	return f
}

func (f *fixture) say(t *testing.T, session, content string) *store.ChatMessage {
	t.Helper()
	msg := &store.ChatMessage{SessionID: session, Role: "user", Content: content}
	_, err := f.repos.Chat.Save(context.Background(), msg)
	require.NoError(t, err)
	return msg
}

func TestConnectInitialisesIndex(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Uninitialized, f.p.State())

	require.NoError(t, f.m.Connect(context.Background(), "w"))
	assert.Equal(t, Ready, f.p.State())

	require.NoError(t, f.m.Disconnect())
	assert.Equal(t, Uninitialized, f.p.State())
	assert.Equal(t, Unavailable, f.p.Init(context.Background()))
}

func TestConcurrentInitOpensOnce(t *testing.T) {
	var (
		calls atomic.Int32
		gate  = make(chan struct{})
		p     *Pipeline
	)
	emb := embedding.NewMock(8)
	p, err := New(emb, WithIndexOpener(func(ctx context.Context, sess *world.Session) (*store.VectorIndex, error) {
		calls.Add(1)
		<-gate
		return p.defaultOpener(ctx, sess)
	}))
	require.NoError(t, err)

	// Bind by hand so the connect itself does not consume the attempt.
	m := world.NewManager(t.TempDir(), "world_")
	require.NoError(t, m.Connect(context.Background(), "w"))
	t.Cleanup(func() { m.Disconnect() })
	p.mu.Lock()
	p.sess = m.Session()
	p.mu.Unlock()

	const n = 8
	states := make([]State, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = p.Init(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return p.State() == Initializing }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, s := range states {
		assert.Equal(t, Ready, s)
	}
	assert.Equal(t, Ready, p.Init(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
}

func TestInitFailureLeavesUnavailable(t *testing.T) {
	f := newFixture(t, WithIndexOpener(func(context.Context, *world.Session) (*store.VectorIndex, error) {
		return nil, errors.New("no vector support")
	}))
	require.NoError(t, f.m.Connect(context.Background(), "w"))
	assert.Equal(t, Unavailable, f.p.State())

	got, err := f.p.Recall(context.Background(), "anything", 3, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Saving still works; the vector job fails quietly.
	f.say(t, "s", "hello")
	f.p.Wait()
	assert.Contains(t, f.logs.String(), "vectorize message failed")
}

func TestEmptyContentIsNeverEmbedded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Connect(context.Background(), "w"))

	f.say(t, "s", "")
	f.say(t, "s", "   \n\t")
	f.p.Wait()

	assert.Zero(t, f.emb.Calls())
	n, err := f.p.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	hist, err := f.repos.Chat.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestEmbeddingFailureDoesNotReachCaller(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Connect(context.Background(), "w"))
	f.emb.SetError(errors.New("provider down"))

	msg := f.say(t, "s", "remember me")
	f.p.Wait()

	assert.NoError(t, f.m.Status().Err())
	logs := f.logs.String()
	assert.Contains(t, logs, "vectorize message failed")
	assert.Contains(t, logs, "message_id="+msg.ID)

	n, err := f.p.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecallFindsSavedMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Connect(ctx, "w"))

	a := f.say(t, "s1", "the castle gate is locked")
	f.say(t, "s1", "we ate bread by the river")
	b := f.say(t, "s2", "the castle gate is locked")
	f.p.Wait()

	n, err := f.p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := f.p.Recall(ctx, "the castle gate is locked", 2, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	ids := []string{all[0].MessageID, all[1].MessageID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	assert.InDelta(t, 0, all[0].Distance, 1e-5)

	scoped, err := f.p.Recall(ctx, "the castle gate is locked", 5, "s2")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, b.ID, scoped[0].MessageID)
	assert.Equal(t, "s2", scoped[0].SessionID)
}

func TestDeletingSessionDropsVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Connect(ctx, "w"))

	f.say(t, "s1", "one")
	f.say(t, "s2", "two")
	f.p.Wait()

	require.NoError(t, f.repos.Chat.DeleteSession(ctx, "s1"))
	n, err := f.p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSlowEmbedAfterSessionDeleteStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Connect(ctx, "w"))

	f.emb.SetDelay(100 * time.Millisecond)
	msg := f.say(t, "s1", "secret that the user deletes")
	require.NoError(t, f.repos.Chat.DeleteSession(ctx, "s1"))
	f.p.Wait()
	f.emb.SetDelay(0)

	history, err := f.repos.Chat.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	n, err := f.p.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := f.p.Recall(ctx, "secret that the user deletes", 5, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NotContains(t, f.logs.String(), "vectorize message failed")
	assert.Contains(t, f.logs.String(), "message_id="+msg.ID)
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithEnabled(false))
	require.NoError(t, f.m.Connect(ctx, "w"))

	f.say(t, "s", "first")
	f.say(t, "s", "")
	f.say(t, "s", "third")
	f.p.Wait()
	assert.Zero(t, f.emb.Calls())

	var last int
	res, err := f.p.Reindex(ctx, func(done, total int) { last = done })
	require.NoError(t, err)
	assert.Equal(t, ReindexResult{Total: 3, Indexed: 2, Skipped: 1}, res)
	assert.Equal(t, 3, last)

	n, err := f.p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Rerunning replaces vectors instead of duplicating them.
	_, err = f.p.Reindex(ctx, nil)
	require.NoError(t, err)
	n, _ = f.p.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestReindexWithoutWorld(t *testing.T) {
	p, err := New(embedding.NewMock(4))
	require.NoError(t, err)
	_, err = p.Reindex(context.Background(), nil)
	assert.Equal(t, apperr.KindConnection, apperr.KindOf(err))
	assert.False(t, p.Enqueue(&store.ChatMessage{Content: "x"}))
}

func TestJobsForOldWorldNeverLandInNewWorld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Connect(ctx, "a"))

	f.emb.SetDelay(50 * time.Millisecond)
	f.say(t, "s", "from world a")
	require.NoError(t, f.m.Connect(ctx, "b"))
	f.emb.SetDelay(0)
	f.p.Wait()

	n, err := f.p.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRateLimitBoundsEmbedCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithRateLimit(0.001), WithCacheSize(0))
	require.NoError(t, f.m.Connect(ctx, "w"))

	// The first call spends the single token; the second must wait far
	// longer than its context allows.
	_, err := f.p.embed(ctx, "one")
	require.NoError(t, err)
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.p.embed(short, "two")
	require.Error(t, err)
	assert.Equal(t, apperr.KindEmbedding, apperr.KindOf(err))
	assert.Equal(t, 1, f.emb.Calls())
}
