package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/secrets"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// mockDefinitionStore keeps definitions in a map keyed by ID.
type mockDefinitionStore struct {
	defs map[string]*domain.ConnectorDefinition
}

func (m *mockDefinitionStore) SaveConnectorDefinition(_ context.Context, _ domain.TenantID, def *domain.ConnectorDefinition) error {
	m.defs[def.ID] = def
	return nil
}

func (m *mockDefinitionStore) GetConnectorDefinition(_ context.Context, _ domain.TenantID, id string) (*domain.ConnectorDefinition, error) {
	def, ok := m.defs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return def, nil
}

func (m *mockDefinitionStore) ListConnectorDefinitions(context.Context, domain.TenantID) ([]domain.ConnectorDefinition, error) {
	return nil, nil
}

func (m *mockDefinitionStore) DeleteConnectorDefinition(context.Context, domain.TenantID, string) error {
	return nil
}

// mockResolver resolves references from a map.
type mockResolver map[string]string

func (m mockResolver) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", domain.ErrCredentialsUnavailable
	}
	return v, nil
}

// captured records what a builder received.
type captured struct {
	source domain.Source
	creds  driven.Credentials
}

func capturingBuilder(c *captured) driven.ConnectorBuilder {
	return func(source domain.Source, creds driven.Credentials) (driven.Connector, error) {
		c.source = source
		c.creds = creds
		return &gateConnector{}, nil
	}
}

func testSealer() *secrets.Sealer {
	var key [secrets.KeySize]byte
	copy(key[:], "fedcba9876543210fedcba9876543210")
	return secrets.NewSealer(key)
}

func TestConnectorRegistry_Builtins(t *testing.T) {
	r := NewConnectorRegistry(&mockDefinitionStore{}, nil, nil)
	RegisterBuiltinConnectors(r, nil)

	assert.Equal(t, []domain.ConnectorKind{
		domain.ConnectorDatabase, domain.ConnectorLocalDir, domain.ConnectorRestAPI, domain.ConnectorURLList,
	}, r.SupportedKinds())

	infos := r.Describe()
	require.Len(t, infos, 4)
	assert.Equal(t, domain.ConnectorDatabase, infos[0].Kind)
	assert.True(t, infos[0].Credentials)
}

func TestConnectorRegistry_ValidateParams(t *testing.T) {
	r := NewConnectorRegistry(&mockDefinitionStore{}, nil, nil)
	RegisterBuiltinConnectors(r, nil)

	assert.ErrorIs(t, r.ValidateParams(domain.ConnectorDatabase, nil), domain.ErrInvalidInput)
	assert.NoError(t, r.ValidateParams(domain.ConnectorDatabase, map[string]string{"query": "SELECT 1"}))
	assert.ErrorIs(t, r.ValidateParams(domain.ConnectorTranscription, nil), domain.ErrUnsupportedType)
}

func TestConnectorRegistry_CreateLayersParams(t *testing.T) {
	store := &mockDefinitionStore{defs: map[string]*domain.ConnectorDefinition{
		"def-1": {
			ID: "def-1", Name: "api", Kind: domain.ConnectorRestAPI,
			Params:         map[string]string{"items_path": "data", "max_pages": "5"},
			CredentialsRef: "env:API_TOKEN",
		},
	}}
	var got captured
	r := NewConnectorRegistry(store, mockResolver{"env:API_TOKEN": "s3cret"}, nil)
	r.Register(domain.ConnectorRestAPI, capturingBuilder(&got))
	r.SetDefaults(map[string]string{"max_attempts": "4", "max_pages": "100"})

	_, err := r.Create(context.Background(), domain.Source{
		TenantID: testTenant, Kind: domain.ConnectorRestAPI, DefinitionID: "def-1",
		Params: map[string]string{"max_pages": "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"items_path": "data", "max_pages": "2", "max_attempts": "4"}, got.source.Params)
	assert.Equal(t, "s3cret", got.creds.Secret)
}

func TestConnectorRegistry_SealedCredentials(t *testing.T) {
	sealer := testSealer()
	sealed, err := sealer.Seal([]byte("file:/tmp/app.db"))
	require.NoError(t, err)

	store := &mockDefinitionStore{defs: map[string]*domain.ConnectorDefinition{
		"def-1": {ID: "def-1", Name: "db", Kind: domain.ConnectorDatabase, SealedCredentials: sealed},
	}}
	source := domain.Source{TenantID: testTenant, Kind: domain.ConnectorDatabase, DefinitionID: "def-1"}

	t.Run("opened", func(t *testing.T) {
		var got captured
		r := NewConnectorRegistry(store, nil, sealer)
		r.Register(domain.ConnectorDatabase, capturingBuilder(&got))
		_, err := r.Create(context.Background(), source)
		require.NoError(t, err)
		assert.Equal(t, "file:/tmp/app.db", got.creds.Secret)
	})

	t.Run("no sealer", func(t *testing.T) {
		r := NewConnectorRegistry(store, nil, nil)
		r.Register(domain.ConnectorDatabase, capturingBuilder(&captured{}))
		_, err := r.Create(context.Background(), source)
		assert.ErrorIs(t, err, domain.ErrCredentialsUnavailable)
	})
}

func TestConnectorRegistry_CreateErrors(t *testing.T) {
	store := &mockDefinitionStore{defs: map[string]*domain.ConnectorDefinition{
		"def-1": {ID: "def-1", Name: "docs", Kind: domain.ConnectorLocalDir},
	}}
	r := NewConnectorRegistry(store, nil, nil)
	r.Register(domain.ConnectorURLList, capturingBuilder(&captured{}))

	tests := []struct {
		name   string
		source domain.Source
		want   error
	}{
		{name: "unknown kind", source: domain.Source{Kind: domain.ConnectorDatabase}, want: domain.ErrUnsupportedType},
		{name: "missing definition", source: domain.Source{Kind: domain.ConnectorURLList, DefinitionID: "nope"}, want: domain.ErrNotFound},
		{name: "kind mismatch", source: domain.Source{Kind: domain.ConnectorURLList, DefinitionID: "def-1"}, want: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.source.TenantID = testTenant
			_, err := r.Create(context.Background(), tt.source)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMergeParams(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	out := mergeParams(base, map[string]string{"b": "3"})
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, out)
	assert.Equal(t, "2", base["b"])
	assert.Empty(t, mergeParams(nil, nil))
}
