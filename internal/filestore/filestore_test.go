package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/models"
)

func newTestStore(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), "documents")
	require.NoError(t, err)
	return l
}

func TestSaveExistsRemove(t *testing.T) {
	l := newTestStore(t)

	path, err := l.Save("notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "notes.txt"), path)
	assert.True(t, l.Exists(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, l.Remove(path))
	assert.False(t, l.Exists(path))
	require.NoError(t, l.Remove(path))
}

func TestSaveNeverOverwrites(t *testing.T) {
	l := newTestStore(t)

	first, err := l.Save("report.pdf", []byte("one"))
	require.NoError(t, err)
	second, err := l.Save("report.pdf", []byte("two"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Regexp(t, `report_[0-9a-f]{8}\.pdf$`, second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestSaveDropsDirectories(t *testing.T) {
	l := newTestStore(t)

	path, err := l.Save("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "passwd"), path)

	path, err = l.Save("sub/dir/a.pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "a.pdf"), path)
}

func TestCleanName(t *testing.T) {
	name, err := CleanName(" Capitals Guide.docx ")
	require.NoError(t, err)
	assert.Equal(t, "Capitals Guide.docx", name)

	for _, bad := range []string{"", "..", ".", "/", "../.."} {
		_, err := CleanName(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, models.ErrValidation), bad)
		assert.Equal(t, "Invalid file name", models.PublicMessage(err), bad)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	l := newTestStore(t)
	outside := filepath.Join(filepath.Dir(l.Root()), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	for _, p := range []string{"", "../secret.txt", outside, l.Root(), "/etc/passwd"} {
		_, err := l.Resolve(p)
		require.Error(t, err, p)
		assert.True(t, errors.Is(err, models.ErrNotFound), p)
		assert.False(t, l.Exists(p), p)
	}

	assert.True(t, errors.Is(l.Remove("../secret.txt"), models.ErrNotFound))
	assert.FileExists(t, outside)
}

func TestResolveRelativeToRoot(t *testing.T) {
	l := newTestStore(t)
	abs, err := l.Resolve("report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "report.pdf"), abs)
}
