package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// dsnEnv names a disposable database with the vector extension available.
// The role must not bypass row-level security.
const dsnEnv = "SERCHA_TEST_POSTGRES_DSN"

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	store, err := New(context.Background(), dsn, WithDimensions(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// tenant returns a tenant unique to this run so tests share a database.
func tenant(t *testing.T) domain.TenantID {
	return domain.TenantID(fmt.Sprintf("%s-%s", t.Name(), uuid.NewString()[:8]))
}

func ingest(t *testing.T, store *Store, tn domain.TenantID, sourceID, key string, texts []string,
	vecs [][]float32) *domain.DocumentVersion {
	t.Helper()
	ctx := context.Background()
	_, ver, err := store.UpsertDocumentVersion(ctx, tn, sourceID, key, domain.VersionSnapshot{Title: key})
	require.NoError(t, err)
	chunks := make([]domain.Chunk, len(texts))
	for i := range texts {
		chunks[i] = domain.Chunk{Ordinal: i, Content: texts[i], EndOffset: len(texts[i]), Embedding: vecs[i]}
	}
	require.NoError(t, store.InsertChunks(ctx, tn, ver.ID, chunks))
	require.NoError(t, store.PromoteVersion(ctx, tn, ver.ID))
	return ver
}

func TestNew_RequiresDimensions(t *testing.T) {
	_, err := New(context.Background(), "postgres://unused")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTenantParam(t *testing.T) {
	assert.True(t, tenantParam.MatchString(`SELECT 1 FROM x WHERE tenant_id = $1`))
	assert.True(t, tenantParam.MatchString(`INSERT INTO x (a, b) VALUES ($2, $1)`))
	assert.False(t, tenantParam.MatchString(`SELECT 1 FROM x WHERE tenant_id = $10`))
	assert.False(t, tenantParam.MatchString(`DELETE FROM x WHERE id = $2`))
}

func TestTSQuery(t *testing.T) {
	assert.Equal(t, `'invoice' | 'total'`, tsQuery("Invoice total!"))
	assert.Equal(t, ``, tsQuery(`'&|!`))
}

func TestStore_MissingTenant(t *testing.T) {
	// inTx rejects the tenant before touching the pool.
	store := &Store{dimensions: 4}
	_, err := store.ListSources(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
	_, err = store.Search(context.Background(), "", domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, K: 1})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestStore_Lifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	src, err := store.GetOrCreateSource(ctx, tn, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/docs"})
	require.NoError(t, err)

	job, err := store.CreateJob(ctx, tn, src.ID, "")
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, tn, src.ID, "")
	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, job.ID, ce.ActiveJobID)

	_, err = store.StartJob(ctx, tn, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.AppendJobLog(ctx, tn, domain.JobLogEntry{JobID: job.ID, Message: "started"}))

	v1 := ingest(t, store, tn, src.ID, "a.txt", []string{"invoice total 42", "weather"},
		[][]float32{{0, 1, 0, 0}, {1, 0, 0, 0}})

	_, staged, err := store.UpsertDocumentVersion(ctx, tn, src.ID, "a.txt", domain.VersionSnapshot{JobID: job.ID})
	require.NoError(t, err)
	require.NoError(t, store.InsertChunks(ctx, tn, staged.ID, []domain.Chunk{{Content: "draft", Embedding: []float32{1, 0, 0, 0}}}))

	results, err := store.Search(ctx, tn, domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, K: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "weather", results[0].Content)
	assert.Equal(t, v1.Version, results[0].Version)

	hybrid, err := store.Search(ctx, tn, domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, K: 1, HybridText: "invoice total"})
	require.NoError(t, err)
	require.Len(t, hybrid, 1)

	n, err := store.DiscardStagedVersions(ctx, tn, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, store.UpdateJobStatus(ctx, tn, job.ID, domain.JobFailed, "boom"))

	v2 := ingest(t, store, tn, src.ID, "a.txt", []string{"replacement"}, [][]float32{{0, 0, 1, 0}})
	assert.Equal(t, 2, v2.Version) // discarded numbers are reused

	docs, err := store.ListDocuments(ctx, tn, src.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	chunks, err := store.ListChunks(ctx, tn, docs[0].ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "replacement", chunks[0].Content)
}

func TestStore_TenantIsolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a, b := tenant(t), tenant(t)

	src, err := store.GetOrCreateSource(ctx, a, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/docs"})
	require.NoError(t, err)
	ingest(t, store, a, src.ID, "secret.txt", []string{"tenant a secret"}, [][]float32{{1, 0, 0, 0}})

	results, err := store.Search(ctx, b, domain.SearchQuery{Vector: []float32{1, 0, 0, 0}, K: 10, HybridText: "secret"})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.GetSource(ctx, b, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CreateJob(ctx, b, src.ID, "")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestStore_RowLevelSecurity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a, b := tenant(t), tenant(t)

	_, err := store.GetOrCreateSource(ctx, a, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/rls"})
	require.NoError(t, err)

	// A statement bound to tenant b's setting but filtering on a's id
	// still sees nothing: the policy applies before the WHERE clause.
	err = store.inTx(ctx, b, func(sc *scope) error {
		var n int
		if err := sc.tx.QueryRow(ctx, `SELECT COUNT(*) FROM sources WHERE tenant_id = $1`, string(a)).Scan(&n); err != nil {
			return err
		}
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)
}
