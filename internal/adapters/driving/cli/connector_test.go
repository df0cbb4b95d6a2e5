package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
)

func TestConnectorKinds(t *testing.T) {
	catalog := &mockCatalog{infos: []services.ConnectorInfo{
		{
			Kind:        domain.ConnectorDatabase,
			Description: "Rows returned by one SQL query",
			Location:    "a name for the query target",
			Credentials: true,
			Params: []services.ConnectorParam{
				{Key: "query", Description: "SELECT statement to run", Required: true},
				{Key: "driver", Description: "sqlite, postgres or mysql", Default: "sqlite"},
			},
		},
	}}
	withServices(t, &Services{Connectors: catalog})

	out, err := run(t, "connector", "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "database\n  Rows returned by one SQL query")
	assert.Contains(t, out, "credentials: optional secret")
	assert.Contains(t, out, "(required)")
	assert.Contains(t, out, "[default: sqlite]")
}

func TestConnectorAdd(t *testing.T) {
	t.Run("credentials reference", func(t *testing.T) {
		sources := &mockSourceService{}
		withServices(t, &Services{Sources: sources})

		out, err := run(t, "connector", "add", "crm", "--kind", "database",
			"--param", "driver=postgres", "--credentials-ref", "env:CRM_DSN", "--tenant", "acme")
		require.NoError(t, err)

		assert.Contains(t, out, "Saved definition def-1 (crm)")
		got := sources.gotDefinition
		assert.Equal(t, "crm", got.Name)
		assert.Equal(t, domain.ConnectorDatabase, got.Kind)
		assert.Equal(t, "postgres", got.Params["driver"])
		assert.Equal(t, "env:CRM_DSN", got.CredentialsRef)
		assert.Empty(t, got.Secret)
	})

	t.Run("secret from stdin", func(t *testing.T) {
		sources := &mockSourceService{}
		withServices(t, &Services{Sources: sources})

		_, err := execute(t, context.Background(), "s3cret\n",
			"connector", "add", "wiki", "--kind", "restapi", "--secret-stdin", "--tenant", "acme")
		require.NoError(t, err)
		assert.Equal(t, []byte("s3cret"), sources.gotDefinition.Secret)
	})

	t.Run("empty stdin", func(t *testing.T) {
		withServices(t, &Services{Sources: &mockSourceService{}})

		_, err := run(t, "connector", "add", "wiki", "--kind", "restapi", "--secret-stdin", "--tenant", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty secret")
	})

	t.Run("ref and secret are exclusive", func(t *testing.T) {
		withServices(t, &Services{Sources: &mockSourceService{}})

		_, err := execute(t, context.Background(), "x",
			"connector", "add", "wiki", "--kind", "restapi", "--secret-stdin", "--credentials-ref", "env:X", "--tenant", "acme")
		require.Error(t, err)
	})

	t.Run("kind required", func(t *testing.T) {
		withServices(t, &Services{Sources: &mockSourceService{}})

		_, err := run(t, "connector", "add", "wiki", "--tenant", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kind")
	})

	t.Run("no key configured", func(t *testing.T) {
		withServices(t, &Services{Sources: &mockSourceService{err: domain.ErrCredentialsUnavailable}})

		_, err := execute(t, context.Background(), "tok",
			"connector", "add", "wiki", "--kind", "restapi", "--secret-stdin", "--tenant", "acme")
		assert.ErrorIs(t, err, domain.ErrCredentialsUnavailable)
	})
}

func TestConnectorList(t *testing.T) {
	sources := &mockSourceService{definitions: []domain.ConnectorDefinition{
		{ID: "def-1", Name: "crm", Kind: domain.ConnectorDatabase,
			Params: map[string]string{"query": "SELECT 1", "driver": "postgres"}, CredentialsRef: "env:CRM_DSN"},
		{ID: "def-2", Name: "wiki", Kind: domain.ConnectorRestAPI, SealedCredentials: []byte{1, 2, 3}},
	}}
	withServices(t, &Services{Sources: sources})

	out, err := run(t, "connector", "list", "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "def-1  database   crm")
	assert.Contains(t, out, "params: driver, query")
	assert.Contains(t, out, "credentials: env:CRM_DSN")
	assert.Contains(t, out, "credentials: sealed")
	assert.NotContains(t, out, "\x01")
}

func TestConnectorRemove(t *testing.T) {
	t.Run("removes", func(t *testing.T) {
		sources := &mockSourceService{}
		withServices(t, &Services{Sources: sources})

		out, err := run(t, "connector", "remove", "def-1", "--tenant", "acme")
		require.NoError(t, err)
		assert.Equal(t, "def-1", sources.removed)
		assert.Contains(t, out, "Definition def-1 removed.")
	})

	t.Run("in use", func(t *testing.T) {
		withServices(t, &Services{Sources: &mockSourceService{err: domain.ErrInUse}})

		_, err := run(t, "connector", "remove", "def-1", "--tenant", "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "used by a source")
	})
}
