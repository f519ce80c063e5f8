package fileentry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDirectoryListsFilesAndDirs(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("print(1)\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	entries, err := ReadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	assert.Equal(t, "print(1)\n", byName["a.py"].Content)
	assert.False(t, byName["a.py"].IsDir)
	assert.True(t, byName["sub"].IsDir)
	assert.Empty(t, byName["sub"].Content)
}

func TestReadDirectoryIsNotRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0644))

	entries, err := ReadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)
}

func TestReadDirectoryMissingPath(t *testing.T) {
	_, err := ReadDirectory(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
