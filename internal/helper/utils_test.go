package helper

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	id, err := GenerateUUID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	assert.NotEqual(t, RequestID(), RequestID())
}

func TestPrettyString(t *testing.T) {
	got := PrettyString(map[string]int{"chunks": 2})
	assert.Equal(t, "{\n  \"chunks\": 2\n}", got)
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media", "documents")
	require.NoError(t, CreateFolder(dir))
	assert.DirExists(t, dir)
	require.NoError(t, CreateFolder(dir))
}
