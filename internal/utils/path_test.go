package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	abs, err := ResolvePath("./data/../mirror.db")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
	assert.Equal(t, "mirror.db", filepath.Base(abs))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	p, err := ResolvePath("~/mirror")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mirror"), p)
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "mirror.db")
	require.NoError(t, EnsureParent(target))
	assert.DirExists(t, filepath.Dir(target))
	assert.False(t, FileExists(target))

	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	assert.True(t, FileExists(target))
	assert.False(t, FileExists(filepath.Dir(target)))
}
