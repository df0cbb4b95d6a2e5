package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/secrets"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

func loadConfig(t *testing.T, set map[string]any) *config.Config {
	t.Helper()
	v := config.New()
	v.Set("data_dir", t.TempDir())
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestNew_SqliteWithoutKey(t *testing.T) {
	cfg := loadConfig(t, nil)
	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.FileExists(t, filepath.Join(cfg.DataDir, sqlite.DatabaseFile))
	assert.NotContains(t, a.Connectors.SupportedKinds(), domain.ConnectorTranscription)

	// Without a key file inline secrets are refused.
	_, err = a.Sources.SaveDefinition(context.Background(), "acme", driving.DefinitionRequest{
		Name: "api", Kind: domain.ConnectorRestAPI, Secret: []byte("token"),
	})
	assert.ErrorIs(t, err, domain.ErrCredentialsUnavailable)
}

func TestNew_WithKeyAndTranscriber(t *testing.T) {
	cfg := loadConfig(t, map[string]any{
		"transcriber.base_url": "http://127.0.0.1:1/v1",
		"embedding.provider":   "openai",
	})
	require.NoError(t, secrets.WriteKeyFile(cfg.Secrets.KeyFile))

	a, err := New(context.Background(), cfg, Options{QueueOnly: true})
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Contains(t, a.Connectors.SupportedKinds(), domain.ConnectorTranscription)

	def, err := a.Sources.SaveDefinition(context.Background(), "acme", driving.DefinitionRequest{
		Name: "api", Kind: domain.ConnectorRestAPI, Secret: []byte("token"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, def.SealedCredentials)

	// Queue-only submissions stay pending and never touch the model.
	job, err := a.Jobs.Submit(context.Background(), "acme", driving.SubmitRequest{
		Kind: domain.ConnectorLocalDir, Location: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
}

type fixedModel struct{ dims int }

func (m *fixedModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, m.dims)
		out[i][0] = 1
	}
	return out, nil
}
func (m *fixedModel) Dimensions() int   { return m.dims }
func (m *fixedModel) ModelName() string { return "fixed" }
func (m *fixedModel) Reentrant() bool   { return true }
func (m *fixedModel) Close() error      { return nil }

func TestNew_EmbeddingDimensions(t *testing.T) {
	t.Run("mismatch aborts startup", func(t *testing.T) {
		cfg := loadConfig(t, map[string]any{"embedding.dimensions": 768})
		_, err := New(context.Background(), cfg, Options{EmbeddingModel: &fixedModel{dims: 384}})
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
		assert.Contains(t, err.Error(), "declares 384 dimensions")
	})

	t.Run("matching model initialises", func(t *testing.T) {
		cfg := loadConfig(t, map[string]any{"embedding.dimensions": 8})
		a, err := New(context.Background(), cfg, Options{EmbeddingModel: &fixedModel{dims: 8}})
		require.NoError(t, err)
		defer func() { assert.NoError(t, a.Close()) }()

		assert.NoError(t, a.Embedder.Init(context.Background()))
	})
}

func TestNew_BadKeyFile(t *testing.T) {
	cfg := loadConfig(t, nil)
	cfg.Secrets.KeyFile = t.TempDir()
	_, err := New(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
