package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	_, err = ResolvePath("")
	assert.Error(t, err)

	got, err := ResolvePath("~/gallery")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "gallery"), got)

	got, err = ResolvePath("./a/../b")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "b", filepath.Base(got))
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "x", "y", "file.db")

	require.NoError(t, EnsureParent(target))
	assert.DirExists(t, filepath.Dir(target))

	// idempotent
	require.NoError(t, EnsureParent(target))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.Error(t, EnsureDir(file))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}
