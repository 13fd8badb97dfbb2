package daemontransport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := newDaemonMeta(12345, "tok")

	require.NoError(t, WriteMeta(dir, meta))

	info, err := os.Stat(MetaPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, found, err := ReadMeta(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, meta.Port, got.Port)
	assert.Equal(t, meta.Token, got.Token)
}

func TestReadMetaAbsentReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	got, found, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestReadMetaRejectsWeakPermissions(t *testing.T) {
	dir := t.TempDir()
	meta := newDaemonMeta(1, "tok")
	require.NoError(t, WriteMeta(dir, meta))
	require.NoError(t, os.Chmod(MetaPath(dir), 0o644))

	got, found, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	_, statErr := os.Stat(MetaPath(dir))
	assert.True(t, os.IsNotExist(statErr), "weak-permission meta file must be deleted")
}

func TestRemoveMetaIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, RemoveMeta(dir))
	require.NoError(t, WriteMeta(dir, newDaemonMeta(1, "tok")))
	require.NoError(t, RemoveMeta(dir))
	_, found, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGenerateTokenIsNonEmptyAndUnique(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestConstantTimeTokenEqual(t *testing.T) {
	assert.True(t, constantTimeTokenEqual("abc", "abc"))
	assert.False(t, constantTimeTokenEqual("abc", "abd"))
	assert.False(t, constantTimeTokenEqual("", ""))
}
