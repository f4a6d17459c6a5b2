package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations(t *testing.T) {
	t.Run("embedded migrations", func(t *testing.T) {
		names, err := ListMigrations("")
		require.NoError(t, err)
		require.NotEmpty(t, names)
		assert.Equal(t, "000001_create_checkout_sessions.up.sql", names[0])
	})

	t.Run("directory override", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
		}
		names, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, names)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := ListMigrations(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})
}

func TestOpenSource(t *testing.T) {
	src, err := openSource("")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
}
