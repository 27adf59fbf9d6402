// Package vectormem turns saved chat messages into embedding vectors and
// answers similarity queries over them.
//
// Vectorisation is a side pipeline: it runs in the background after a
// message is stored and its failures are logged and dropped. A message
// without a vector is a normal state.
package vectormem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/embedding"
	"github.com/34892002/3000World/pkg/world"
)

// State is the per-World lifecycle of the vector index handle.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Unavailable
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// IndexOpener builds the vector index handle for a session.
type IndexOpener func(ctx context.Context, sess *world.Session) (*store.VectorIndex, error)

var (
	errNotReady     = errors.New("vector index unavailable")
	errNotConnected = errors.New("no world connected")
)

// Pipeline is the vector memory pipeline for the active World. It is a
// world.Listener: connecting binds it to the new Session and starts
// initialisation, disconnecting drops the index handle.
type Pipeline struct {
	embedder   embedding.Embedder
	logger     *log.Logger
	collection string
	field      string
	timeout    time.Duration
	enabled    bool
	cacheSize  int64
	cache      *ristretto.Cache
	openIndex  IndexOpener
	limiter    *rate.Limiter

	init singleflight.Group
	wg   sync.WaitGroup

	mu    sync.RWMutex
	sess  *world.Session
	state State
	index *store.VectorIndex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger that receives swallowed failures.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.Component(l, "vectormem") }
}

// WithCollection sets the vector collection and vector field names.
func WithCollection(collection, field string) Option {
	return func(p *Pipeline) {
		p.collection = collection
		p.field = field
	}
}

// WithEmbedTimeout bounds each background embed-and-store job.
func WithEmbedTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithCacheSize sets how many embeddings are memoised; 0 disables the cache.
func WithCacheSize(n int64) Option {
	return func(p *Pipeline) { p.cacheSize = n }
}

// WithIndexOpener replaces how the index handle is built.
func WithIndexOpener(o IndexOpener) Option {
	return func(p *Pipeline) { p.openIndex = o }
}

// WithRateLimit caps embedding calls at rps per second. Zero or less
// removes the cap.
func WithRateLimit(rps float64) Option {
	return func(p *Pipeline) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithEnabled turns background vectorisation on or off.
func WithEnabled(enabled bool) Option {
	return func(p *Pipeline) { p.enabled = enabled }
}

// New creates a Pipeline that embeds with embedder.
func New(embedder embedding.Embedder, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		embedder:   embedder,
		logger:     logging.Discard(),
		collection: "vectors",
		field:      "vector",
		timeout:    30 * time.Second,
		enabled:    true,
		cacheSize:  1024,
	}
	for _, o := range opts {
		o(p)
	}
	if p.openIndex == nil {
		p.openIndex = p.defaultOpener
	}
	if p.cacheSize > 0 {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: p.cacheSize * 10,
			MaxCost:     p.cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

func (p *Pipeline) defaultOpener(ctx context.Context, sess *world.Session) (*store.VectorIndex, error) {
	var idx *store.VectorIndex
	err := sess.Do(ctx, "initVectorDB", func(st store.Storer) error {
		var err error
		idx, err = st.OpenVectorIndex(ctx, p.collection, p.field, st.SchemaVersion())
		return err
	})
	return idx, err
}

// =============================================================================
// world.Listener
// =============================================================================

// OnConnect binds the pipeline to sess and initialises the index. An
// index that cannot be opened leaves the pipeline Unavailable; it never
// fails the connect.
func (p *Pipeline) OnConnect(ctx context.Context, sess *world.Session) error {
	p.mu.Lock()
	p.sess = sess
	p.index = nil
	p.state = Uninitialized
	p.mu.Unlock()

	if st := p.Init(ctx); st != Ready {
		p.logger.Warn("vector memory unavailable", "world", sess.Name())
	}
	return nil
}

// OnDisconnect drops the index handle and the bound session.
func (p *Pipeline) OnDisconnect() {
	p.mu.Lock()
	p.sess = nil
	p.index = nil
	p.state = Uninitialized
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.Clear()
	}
}

// =============================================================================
// Initialisation
// =============================================================================

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Init brings the index to Ready if it is not already. Concurrent callers
// for the same session share one attempt and observe the same outcome.
// With no World connected the result is Unavailable.
func (p *Pipeline) Init(ctx context.Context) State {
	p.mu.Lock()
	sess := p.sess
	if sess == nil {
		p.state = Unavailable
		p.mu.Unlock()
		return Unavailable
	}
	if p.state == Ready && p.index != nil {
		p.mu.Unlock()
		return Ready
	}
	p.mu.Unlock()

	key := fmt.Sprintf("%s#%d", sess.Name(), sess.Generation())
	v, _, _ := p.init.Do(key, func() (any, error) {
		// Shared by every waiter, so no single caller's cancellation
		// may abort it.
		ictx := context.WithoutCancel(ctx)

		p.mu.RLock()
		done := p.sess == sess && p.state == Ready && p.index != nil
		p.mu.RUnlock()
		if done {
			return Ready, nil
		}

		if !p.transition(sess, Initializing, nil) {
			return Unavailable, nil
		}
		idx, err := p.openIndex(ictx, sess)
		if err != nil {
			p.logger.Warn("vector index init failed", "world", sess.Name(), "err", err)
			p.transition(sess, Unavailable, nil)
			return Unavailable, nil
		}
		if !p.transition(sess, Ready, idx) {
			return Unavailable, nil
		}
		p.logger.Debug("vector index ready", "world", sess.Name(), "collection", idx.Collection())
		return Ready, nil
	})
	return v.(State)
}

// transition sets the state if sess is still the bound session.
func (p *Pipeline) transition(sess *world.Session, to State, idx *store.VectorIndex) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return false
	}
	p.state = to
	p.index = idx
	return true
}

// ready returns the index handle when sess is bound and Ready.
func (p *Pipeline) ready(ctx context.Context, sess *world.Session) (*store.VectorIndex, error) {
	if p.Init(ctx) != Ready {
		return nil, errNotReady
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sess != sess {
		return nil, apperr.New(apperr.KindStaleSession, "vectorize", nil)
	}
	if p.index == nil {
		return nil, errNotReady
	}
	return p.index, nil
}

func (p *Pipeline) bound() *world.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sess
}

// =============================================================================
// Fan-out
// =============================================================================

// Enqueue schedules msg for background embedding. It returns immediately
// and reports whether a job was started; content that is empty after
// trimming never is. Job failures are logged at WARN and discarded.
func (p *Pipeline) Enqueue(msg *store.ChatMessage) bool {
	if !p.enabled || msg == nil || strings.TrimSpace(msg.Content) == "" {
		return false
	}
	sess := p.bound()
	if sess == nil {
		return false
	}

	m := *msg
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("vectorize panicked", "message_id", m.ID, "world", sess.Name(), "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		err := p.vectorize(ctx, sess, &m)
		switch {
		case errors.Is(err, store.ErrMessageGone):
			p.logger.Debug("message deleted before vectorize", "message_id", m.ID, "world", sess.Name())
		case err != nil:
			p.logger.Warn("vectorize message failed", "message_id", m.ID, "world", sess.Name(), "err", err)
		}
	}()
	return true
}

// Wait blocks until every background job has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) vectorize(ctx context.Context, sess *world.Session, m *store.ChatMessage) error {
	idx, err := p.ready(ctx, sess)
	if err != nil {
		return apperr.Wrap(apperr.KindIndex, "vectorize", err)
	}
	return p.vectorizeWith(ctx, sess, idx, m)
}

func (p *Pipeline) vectorizeWith(ctx context.Context, sess *world.Session, idx *store.VectorIndex, m *store.ChatMessage) error {
	vec, err := p.embed(ctx, m.Content)
	if err != nil {
		return err
	}
	rec := &store.VectorRecord{
		MessageID:     m.ID,
		Content:       m.Content,
		CharacterName: m.CharacterName,
		Role:          m.Role,
		Timestamp:     m.Timestamp,
		SessionID:     m.SessionID,
		Vector:        vec,
	}
	err = sess.Do(ctx, "vectorize", func(store.Storer) error {
		return idx.Upsert(ctx, rec)
	})
	return apperr.Wrap(apperr.KindIndex, "vectorize", err)
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(text); ok {
			return v.([]float32), nil
		}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, apperr.New(apperr.KindEmbedding, "embed", err)
		}
	}
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "embed", err)
	}
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindEmbedding, "embed", errors.New("empty vector"))
	}
	if p.cache != nil {
		p.cache.Set(text, vec, 1)
	}
	return vec, nil
}
