package localdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/connectors"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func drain(t *testing.T, c *Connector) ([]domain.RawItem, error) {
	t.Helper()
	items, errs := c.Fetch(context.Background())
	var out []domain.RawItem
	for it := range items {
		out = append(out, it)
	}
	return out, <-errs
}

func TestNew_Params(t *testing.T) {
	c, err := New("/tmp", connectors.Params{"patterns": "*.md,*.txt", "include_hidden": "true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*.md", "*.txt"}, c.patterns)
	assert.True(t, c.includeHidden)
	assert.Equal(t, domain.ConnectorLocalDir, c.Kind())

	_, err = New("/tmp", connectors.Params{"include_hidden": "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Validate(context.Background()))

	c, _ = New(filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, c.Validate(context.Background()), domain.ErrConnectorValidation)

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	c, _ = New(file, nil)
	assert.ErrorIs(t, c.Validate(context.Background()), domain.ErrConnectorValidation)
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "c.csv"), []byte("x,y\n1,2\n"), 0o644))

	c, err := New(dir, nil)
	require.NoError(t, err)
	items, err := drain(t, c)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "a.txt", items[0].NaturalKey)
	assert.Equal(t, "text/plain", items[0].ContentType)
	assert.Equal(t, "alpha", string(items[0].Content))
	assert.Equal(t, int64(5), items[0].Metadata["size"])

	assert.Equal(t, "b.md", items[1].NaturalKey)
	assert.Equal(t, "text/markdown", items[1].ContentType)
	assert.Equal(t, "docs/c.csv", items[2].NaturalKey)
	assert.Equal(t, "text/csv", items[2].ContentType)

	// Fetch restarts from the beginning.
	again, err := drain(t, c)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestFetch_OversizedFileIsItemError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.txt"), []byte("ok"), 0o644))

	c, err := New(dir, connectors.Params{"max_file_size": "10"})
	require.NoError(t, err)
	items, err := drain(t, c)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Failed())
	assert.True(t, domain.IsItemScoped(items[0].Err))
	assert.False(t, items[1].Failed())
}

func TestFetch_MissingRoot(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "gone"), nil)
	require.NoError(t, err)
	items, err := drain(t, c)
	assert.Empty(t, items)
	assert.Error(t, err)
}

func TestFetch_Cancel(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	c, _ := New(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	items, errs := c.Fetch(ctx)
	<-items
	cancel()
	for range items {
	}
	assert.NoError(t, <-errs)
}
