package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL_PrefersConfiguredValue(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	got, err := ResolveURL(" postgres://configured ")
	require.NoError(t, err)
	assert.Equal(t, "postgres://configured", got)
}

func TestResolveURL_FallsBackToEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	got, err := ResolveURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", got)
}

func TestLoadDatabaseURL_ReadsDotEnvFromParent(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("# local\nOTHER=1\nDATABASE_URL=\"postgres://dotenv\"\n"), 0o600))
	t.Chdir(nested)

	got, err := loadDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://dotenv", got)
}
