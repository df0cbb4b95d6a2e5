package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// mockSearchStore records the last query.
type mockSearchStore struct {
	last    domain.SearchQuery
	results []domain.RankedChunk
	err     error
}

func (m *mockSearchStore) Search(_ context.Context, _ domain.TenantID, q domain.SearchQuery) ([]domain.RankedChunk, error) {
	m.last = q
	return m.results, m.err
}

// recordingMetrics captures retrieval observations.
type recordingMetrics struct {
	mu         sync.Mutex
	retrievals []error
	jobs       []domain.JobStatus
}

func (m *recordingMetrics) JobFinished(s domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, s)
}
func (m *recordingMetrics) ItemFinished(string)                      {}
func (m *recordingMetrics) ChunksWritten(int)                        {}
func (m *recordingMetrics) EmbeddingBatch(int, time.Duration, error) {}
func (m *recordingMetrics) Retrieval(_ time.Duration, _ int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals = append(m.retrievals, err)
}

func newTestRetrieval(store *mockSearchStore, model *fakeModel, metrics *recordingMetrics) *RetrievalService {
	embedder := NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil)
	return NewRetrievalService(store, embedder, metrics, RetrievalConfig{DefaultK: 3, MaxK: 10})
}

func TestRetrieval_Validation(t *testing.T) {
	svc := newTestRetrieval(&mockSearchStore{}, newFakeModel(4), &recordingMetrics{})

	_, err := svc.Retrieve(context.Background(), testTenant, "   ", driving.RetrieveOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Retrieve(context.Background(), "", "invoice", driving.RetrieveOptions{})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestRetrieval_K(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want int
	}{
		{name: "default", k: 0, want: 3},
		{name: "negative", k: -2, want: 3},
		{name: "explicit", k: 7, want: 7},
		{name: "capped", k: 500, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockSearchStore{}
			svc := newTestRetrieval(store, newFakeModel(4), &recordingMetrics{})

			results, err := svc.Retrieve(context.Background(), testTenant, "invoice", driving.RetrieveOptions{K: tt.k})
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
			assert.Equal(t, tt.want, store.last.K)
			assert.Empty(t, store.last.HybridText)
			assert.Equal(t, domain.DefaultRRFK, store.last.RRFK)
			assert.Len(t, store.last.Vector, 4)
		})
	}
}

func TestRetrieval_HybridPassesText(t *testing.T) {
	store := &mockSearchStore{}
	svc := newTestRetrieval(store, newFakeModel(4), &recordingMetrics{})

	_, err := svc.Retrieve(context.Background(), testTenant, "  invoice total ", driving.RetrieveOptions{Hybrid: true})
	require.NoError(t, err)
	assert.Equal(t, "invoice total", store.last.HybridText)
}

func TestRetrieval_EmbeddingUnavailable(t *testing.T) {
	model := newFakeModel(4)
	model.err = errors.New("connection refused")
	metrics := &recordingMetrics{}
	svc := newTestRetrieval(&mockSearchStore{}, model, metrics)

	_, err := svc.Retrieve(context.Background(), testTenant, "invoice", driving.RetrieveOptions{})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	require.Len(t, metrics.retrievals, 1)
	assert.Error(t, metrics.retrievals[0])
}

func TestRetrieval_DimensionMismatch(t *testing.T) {
	model := newFakeModel(4)
	model.outDims = 3
	svc := newTestRetrieval(&mockSearchStore{}, model, &recordingMetrics{})

	_, err := svc.Retrieve(context.Background(), testTenant, "invoice", driving.RetrieveOptions{})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestRetrieval_StoreError(t *testing.T) {
	store := &mockSearchStore{err: errors.New("disk gone")}
	svc := newTestRetrieval(store, newFakeModel(4), &recordingMetrics{})

	_, err := svc.Retrieve(context.Background(), testTenant, "invoice", driving.RetrieveOptions{})
	assert.ErrorContains(t, err, "disk gone")
}

// vectors maps exact texts to fixed embeddings; anything else is the
// dimension check and gets a unit vector.
func vectors(m map[string][]float32) func(string) []float32 {
	return func(text string) []float32 {
		if v, ok := m[text]; ok {
			return v
		}
		return []float32{0, 0, 0, 1}
	}
}

func TestRetrieval_HybridOnSqlite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewStore(t.TempDir(), sqlite.WithDimensions(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	src, err := store.GetOrCreateSource(ctx, testTenant, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/docs"})
	require.NoError(t, err)
	put := func(key, text string, vec []float32) {
		_, ver, err := store.UpsertDocumentVersion(ctx, testTenant, src.ID, key, domain.VersionSnapshot{Title: key})
		require.NoError(t, err)
		require.NoError(t, store.InsertChunks(ctx, testTenant, ver.ID, []domain.Chunk{
			{Content: text, EndOffset: len(text), Embedding: vec},
		}))
		require.NoError(t, store.PromoteVersion(ctx, testTenant, ver.ID))
	}
	put("invoice.txt", "The invoice total was 42 euros.", []float32{0, 1, 0, 0})
	put("weather.txt", "Sunny weather expected all week.", []float32{1, 0, 0, 0})

	model := newFakeModel(4)
	// The query vector sits next to the weather chunk.
	model.embed = vectors(map[string][]float32{"invoice total": {1, 0.1, 0, 0}})
	svc := NewRetrievalService(store, NewEmbedder(model, EmbedderConfig{Dimensions: 4}, nil), nil, RetrievalConfig{})

	plain, err := svc.Retrieve(ctx, testTenant, "invoice total", driving.RetrieveOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, plain, 1)
	assert.Equal(t, "weather.txt", plain[0].NaturalKey)

	hybrid, err := svc.Retrieve(ctx, testTenant, "invoice total", driving.RetrieveOptions{K: 1, Hybrid: true})
	require.NoError(t, err)
	require.Len(t, hybrid, 1)
	assert.Equal(t, "invoice.txt", hybrid[0].NaturalKey)

	other, err := svc.Retrieve(ctx, "globex", "invoice total", driving.RetrieveOptions{K: 5, Hybrid: true})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func rankedFixture() []domain.RankedChunk {
	return []domain.RankedChunk{
		{Content: "The invoice total was 42 euros.", NaturalKey: "invoice.txt", Title: "Invoice",
			SourceLocation: "/docs", Ordinal: 0, Version: 2},
		{Content: "Payment is due in 30 days.", NaturalKey: "https://example.com/terms",
			SourceLocation: "https://example.com/terms", Ordinal: 3, Version: 1},
	}
}

func TestAssembleContext(t *testing.T) {
	svc := NewRetrievalService(&mockSearchStore{}, nil, nil, RetrievalConfig{})

	t.Run("unbounded", func(t *testing.T) {
		out := svc.AssembleContext("what is owed?", rankedFixture(), 0)
		assert.Equal(t, "what is owed?", out.Question)
		assert.Len(t, out.Sources, 2)
		assert.Equal(t, "[1] Invoice (/docs > invoice.txt, chunk 0, v2)\nThe invoice total was 42 euros.\n\n"+
			"[2] https://example.com/terms (https://example.com/terms, chunk 3, v1)\nPayment is due in 30 days.", out.Text)
	})

	t.Run("budget drops later blocks", func(t *testing.T) {
		out := svc.AssembleContext("q", rankedFixture(), 90)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "invoice.txt", out.Sources[0].NaturalKey)
		assert.NotContains(t, out.Text, "Payment")
	})

	t.Run("first block truncated", func(t *testing.T) {
		out := svc.AssembleContext("q", rankedFixture(), 10)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "[1] Invoic", out.Text)
	})

	t.Run("empty", func(t *testing.T) {
		out := svc.AssembleContext("q", nil, 100)
		assert.Empty(t, out.Text)
		assert.NotNil(t, out.Sources)
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "héllo", truncateRunes("héllo", 9))
	assert.Empty(t, truncateRunes("héllo", 0))
	assert.True(t, strings.HasPrefix("日本語", truncateRunes("日本語", 2)))
}
