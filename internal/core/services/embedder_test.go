package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// fakeModel returns deterministic vectors derived from the text.
type fakeModel struct {
	dims      int
	outDims   int
	reentrant bool
	err       error
	delay     time.Duration

	mu       sync.Mutex
	calls    int
	batches  []int
	inFlight int32
	maxPar   int32
	embed    func(text string) []float32
}

func newFakeModel(dims int) *fakeModel {
	return &fakeModel{dims: dims, outDims: dims, reentrant: true}
}

func (m *fakeModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&m.maxPar)
		if n <= cur || atomic.CompareAndSwapInt32(&m.maxPar, cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, len(texts))
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if m.embed != nil {
			out[i] = m.embed(t)
			continue
		}
		v := make([]float32, m.outDims)
		if m.outDims > 0 {
			v[len(t)%m.outDims] = 1
		}
		out[i] = v
	}
	return out, nil
}

func (m *fakeModel) Dimensions() int   { return m.dims }
func (m *fakeModel) ModelName() string { return "fake" }
func (m *fakeModel) Reentrant() bool   { return m.reentrant }
func (m *fakeModel) Close() error      { return nil }

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i%26))
	}
	return out
}

func TestEmbedder_Defaults(t *testing.T) {
	e := NewEmbedder(newFakeModel(768), EmbedderConfig{}, nil)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	assert.Equal(t, DefaultBatchSize, e.cfg.BatchSize)
	assert.Equal(t, DefaultConcurrency, e.cfg.Concurrency)
}

func TestEmbedder_BatchesInOrder(t *testing.T) {
	model := newFakeModel(4)
	model.embed = func(text string) []float32 { return []float32{float32(text[0]), 0, 0, 0} }
	e := NewEmbedder(model, EmbedderConfig{Dimensions: 4, BatchSize: 3, Concurrency: 2}, nil)

	in := texts(10)
	vecs, err := e.Embed(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(in[i][0]), v[0])
	}

	// One sample call plus ceil(10/3) batches.
	assert.Equal(t, 5, model.calls)
	assert.ElementsMatch(t, []int{1, 3, 3, 3, 1}, model.batches)
}

func TestEmbedder_ChecksDimensionsOnce(t *testing.T) {
	model := newFakeModel(4)
	e := NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil)
	require.NoError(t, e.Init(context.Background()))
	require.NoError(t, e.Init(context.Background()))
	_, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
}

func TestEmbedder_DimensionMismatchIsSticky(t *testing.T) {
	t.Run("declared", func(t *testing.T) {
		e := NewEmbedder(newFakeModel(384), EmbedderConfig{Dimensions: 768}, nil)
		err := e.Init(context.Background())
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
		assert.True(t, domain.IsFatal(err))
	})

	t.Run("observed", func(t *testing.T) {
		model := newFakeModel(4)
		model.outDims = 3
		e := NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil)

		assert.ErrorIs(t, e.Init(context.Background()), domain.ErrDimensionMismatch)
		model.outDims = 4
		_, err := e.Embed(context.Background(), []string{"x"})
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
		assert.Equal(t, 1, model.calls)
	})
}

func TestEmbedder_UnavailableIsRetried(t *testing.T) {
	model := newFakeModel(4)
	model.err = errors.New("connection refused")
	e := NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil)

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.False(t, domain.IsFatal(err))

	model.err = nil
	vecs, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestEmbedder_RechecksEveryVector(t *testing.T) {
	model := newFakeModel(4)
	e := NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil)
	require.NoError(t, e.Init(context.Background()))

	model.outDims = 5
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestEmbedder_Concurrency(t *testing.T) {
	t.Run("reentrant runs in parallel", func(t *testing.T) {
		model := newFakeModel(4)
		model.delay = 20 * time.Millisecond
		e := NewEmbedder(model, EmbedderConfig{Dimensions: 4, BatchSize: 1, Concurrency: 4}, nil)
		_, err := e.Embed(context.Background(), texts(8))
		require.NoError(t, err)
		assert.LessOrEqual(t, atomic.LoadInt32(&model.maxPar), int32(4))
		assert.Greater(t, atomic.LoadInt32(&model.maxPar), int32(1))
	})

	t.Run("limit is shared by concurrent callers", func(t *testing.T) {
		model := newFakeModel(4)
		model.delay = 10 * time.Millisecond
		e := NewEmbedder(model, EmbedderConfig{Dimensions: 4, BatchSize: 1, Concurrency: 2}, nil)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Embed(context.Background(), texts(4))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, atomic.LoadInt32(&model.maxPar), int32(2))
	})

	t.Run("waiting caller honours cancellation", func(t *testing.T) {
		model := newFakeModel(4)
		e := NewEmbedder(model, EmbedderConfig{Dimensions: 4, Concurrency: 1}, nil)
		require.NoError(t, e.Init(context.Background()))
		require.NoError(t, e.slots.Acquire(context.Background(), 1))
		defer e.slots.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := e.Embed(ctx, texts(1))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("non-reentrant is serialised", func(t *testing.T) {
		model := newFakeModel(4)
		model.reentrant = false
		model.delay = 5 * time.Millisecond
		e := NewEmbedder(model, EmbedderConfig{Dimensions: 4, BatchSize: 1, Concurrency: 4}, nil)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Embed(context.Background(), texts(4))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&model.maxPar))
	})
}

func TestEmbedder_EmptyInput(t *testing.T) {
	e := NewEmbedder(newFakeModel(4), EmbedderConfig{Dimensions: 4}, nil)
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
