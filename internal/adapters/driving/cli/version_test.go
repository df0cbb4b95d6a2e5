package cli

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	old := version
	SetVersion("1.4.2")
	t.Cleanup(func() { SetVersion(old) })

	t.Run("full", func(t *testing.T) {
		out, err := run(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "sercha-ingest 1.4.2")
		assert.Contains(t, out, runtime.Version())
	})

	t.Run("short", func(t *testing.T) {
		out, err := run(t, "version", "--short")
		require.NoError(t, err)
		assert.Equal(t, "1.4.2\n", out)
	})
}
