package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/34892002/3000World/internal/apperr"
)

// Mock is a deterministic embedder for tests and offline use. The same
// text always yields the same unit vector.
type Mock struct {
	dims int

	mu    sync.Mutex
	calls int
	texts []string
	err   error
	delay time.Duration
}

// NewMock returns a Mock producing dims-dimensional vectors.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = 64
	}
	return &Mock{dims: dims}
}

// Embed returns a normalised vector seeded by an FNV hash of text.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts = append(m.texts, text)
	err, delay := m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, apperr.New(apperr.KindEmbedding, "embed", ctx.Err())
		}
	}
	if err != nil {
		return nil, apperr.New(apperr.KindEmbedding, "embed", err)
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, m.dims)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// Dimensions returns the vector size.
func (m *Mock) Dimensions() int { return m.dims }

// Calls returns how many times Embed was called.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Texts returns every text passed to Embed, in call order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// SetError makes subsequent calls fail with err; nil restores success.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes subsequent calls wait d before answering.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}
