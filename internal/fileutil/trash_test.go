package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveToTrash_Linux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("freedesktop trash layout is linux only")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")

	dir := t.TempDir()
	first := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0o644))
	require.NoError(t, MoveToTrash(first))
	assert.NoFileExists(t, first)

	trash := filepath.Join(home, ".local", "share", "Trash")
	data, err := os.ReadFile(filepath.Join(trash, "files", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	info, err := os.ReadFile(filepath.Join(trash, "info", "a.jpg.trashinfo"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(info), "[Trash Info]\nPath="+first+"\nDeletionDate="))

	// A second file with the same name gets a numbered slot
	require.NoError(t, os.WriteFile(first, []byte("second"), 0o644))
	require.NoError(t, MoveToTrash(first))

	data, err = os.ReadFile(filepath.Join(trash, "files", "a_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.FileExists(t, filepath.Join(trash, "info", "a_1.jpg.trashinfo"))
}

func TestMoveToTrash_XDGDataHome(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("freedesktop trash layout is linux only")
	}
	dataHome := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", dataHome)

	src := filepath.Join(t.TempDir(), "b.jpg")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, MoveToTrash(src))

	assert.FileExists(t, filepath.Join(dataHome, "Trash", "files", "b.jpg"))
	assert.FileExists(t, filepath.Join(dataHome, "Trash", "info", "b.jpg.trashinfo"))
}

func TestMoveToTrash_MissingSource(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("freedesktop trash layout is linux only")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")

	err := MoveToTrash(filepath.Join(t.TempDir(), "gone.jpg"))
	require.Error(t, err)

	// The info record is rolled back
	entries, err := os.ReadDir(filepath.Join(home, ".local", "share", "Trash", "info"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindUniqueName(t *testing.T) {
	taken := map[string]bool{"a.jpg": true, "a_1.jpg": true, "noext": true}
	free := func(name string) bool { return !taken[name] }

	assert.Equal(t, "b.jpg", findUniqueName("b.jpg", free))
	assert.Equal(t, "a_2.jpg", findUniqueName("a.jpg", free))
	assert.Equal(t, "noext_1", findUniqueName("noext", free))
}
