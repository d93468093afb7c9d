package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations_OrdersByVersionAndSkipsNoise(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_audios.sql", "001_initial_schema.sql", "README.md", "abc_bad.sql", "010_presets.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755))

	files, err := listMigrations(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, 1, files[0].version)
	assert.Equal(t, 2, files[1].version)
	assert.Equal(t, 10, files[2].version)
	assert.Equal(t, "010_presets.sql", files[2].name)
}

func TestListMigrations_MissingDir(t *testing.T) {
	_, err := listMigrations(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestRepoMigrationsParse(t *testing.T) {
	files, err := listMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, 1, files[0].version)
}
