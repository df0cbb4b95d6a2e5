package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/secrets"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

func newSourceFixture(t *testing.T) (*SourceService, *sqlite.Store, *secrets.Sealer) {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir(), sqlite.WithDimensions(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var key [secrets.KeySize]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	sealer := secrets.NewSealer(key)
	return NewSourceService(store, sealer), store, sealer
}

func TestSourceService_SaveDefinitionSealsSecret(t *testing.T) {
	svc, store, sealer := newSourceFixture(t)
	ctx := context.Background()

	secret := []byte("postgres://reader:hunter2@db/app")
	def, err := svc.SaveDefinition(ctx, testTenant, driving.DefinitionRequest{
		Name:   "warehouse",
		Kind:   domain.ConnectorDatabase,
		Params: map[string]string{"driver": "postgres"},
		Secret: secret,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, def.ID)
	assert.Empty(t, def.CredentialsRef)
	assert.NotContains(t, string(def.SealedCredentials), "hunter2")
	assert.Equal(t, make([]byte, len(secret)), secret, "plaintext is zeroed after sealing")

	stored, err := store.GetConnectorDefinition(ctx, testTenant, def.ID)
	require.NoError(t, err)
	plain, err := sealer.Open(stored.SealedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "postgres://reader:hunter2@db/app", string(plain))

	defs, err := svc.ListDefinitions(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "warehouse", defs[0].Name)

	others, err := svc.ListDefinitions(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestSourceService_SaveDefinitionValidation(t *testing.T) {
	svc, _, _ := newSourceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  driving.DefinitionRequest
		want error
	}{
		{name: "missing name", req: driving.DefinitionRequest{Kind: domain.ConnectorLocalDir}, want: domain.ErrInvalidInput},
		{name: "unknown kind", req: driving.DefinitionRequest{Name: "x", Kind: "ftp"}, want: domain.ErrUnsupportedType},
		{
			name: "ref and secret",
			req: driving.DefinitionRequest{Name: "x", Kind: domain.ConnectorRestAPI,
				CredentialsRef: "env:TOKEN", Secret: []byte("t")},
			want: domain.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SaveDefinition(ctx, testTenant, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := svc.SaveDefinition(ctx, "", driving.DefinitionRequest{Name: "x", Kind: domain.ConnectorLocalDir})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestSourceService_SecretWithoutSealer(t *testing.T) {
	_, store, _ := newSourceFixture(t)
	svc := NewSourceService(store, nil)

	_, err := svc.SaveDefinition(context.Background(), testTenant, driving.DefinitionRequest{
		Name: "api", Kind: domain.ConnectorRestAPI, Secret: []byte("token"),
	})
	assert.ErrorIs(t, err, domain.ErrCredentialsUnavailable)
}

func TestSourceService_RemoveDefinitionInUse(t *testing.T) {
	svc, store, _ := newSourceFixture(t)
	ctx := context.Background()

	def, err := svc.SaveDefinition(ctx, testTenant, driving.DefinitionRequest{
		Name: "api", Kind: domain.ConnectorRestAPI, CredentialsRef: "env:API_TOKEN",
	})
	require.NoError(t, err)
	src, err := store.GetOrCreateSource(ctx, testTenant, domain.SourceSpec{
		Kind: domain.ConnectorRestAPI, Location: "https://api.example.com/items", DefinitionID: def.ID,
	})
	require.NoError(t, err)

	err = svc.RemoveDefinition(ctx, testTenant, def.ID)
	assert.ErrorIs(t, err, domain.ErrInUse)

	require.NoError(t, svc.RemoveSource(ctx, testTenant, src.ID))
	require.NoError(t, svc.RemoveDefinition(ctx, testTenant, def.ID))

	defs, err := svc.ListDefinitions(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSourceService_RemoveSource(t *testing.T) {
	svc, store, _ := newSourceFixture(t)
	ctx := context.Background()

	src, err := store.GetOrCreateSource(ctx, testTenant, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/docs"})
	require.NoError(t, err)
	job, err := store.CreateJob(ctx, testTenant, src.ID, "")
	require.NoError(t, err)

	err = svc.RemoveSource(ctx, testTenant, src.ID)
	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, job.ID, ce.ActiveJobID)

	require.NoError(t, store.UpdateJobStatus(ctx, testTenant, job.ID, domain.JobCancelled, "stop"))
	require.NoError(t, svc.RemoveSource(ctx, testTenant, src.ID))

	sources, err := svc.ListSources(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, sources)

	_, err = svc.ListDocuments(ctx, testTenant, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.RemoveSource(ctx, testTenant, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceService_ListDocuments(t *testing.T) {
	svc, store, _ := newSourceFixture(t)
	ctx := context.Background()

	src, err := store.GetOrCreateSource(ctx, testTenant, domain.SourceSpec{Kind: domain.ConnectorLocalDir, Location: "/docs"})
	require.NoError(t, err)
	_, ver, err := store.UpsertDocumentVersion(ctx, testTenant, src.ID, "a.txt", domain.VersionSnapshot{Title: "A"})
	require.NoError(t, err)
	require.NoError(t, store.PromoteVersion(ctx, testTenant, ver.ID))

	docs, err := svc.ListDocuments(ctx, testTenant, src.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].NaturalKey)

	_, err = svc.ListDocuments(ctx, "globex", src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
