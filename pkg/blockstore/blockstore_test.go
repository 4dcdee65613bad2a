package blockstore

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/blockcache/pkg/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(data []byte) chunk.Hash {
	return sha256.Sum256(data)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	data := []byte("hello block store")
	h := hashOf(data)

	require.NoError(t, s.Write(h, data))

	got, err := s.Read(h, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteIsShardedByHashPrefix(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	data := []byte("shard me")
	h := hashOf(data)
	require.NoError(t, s.Write(h, data))

	expected := filepath.Join(dir, h.String()[:2], h.String())
	_, err = os.Stat(expected)
	assert.NoError(t, err)
}

func TestWriteExistingReturnsAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	data := []byte("duplicate")
	h := hashOf(data)
	require.NoError(t, s.Write(h, data))

	err = s.Write(h, data)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	var h chunk.Hash
	_, err = s.Read(h, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadLengthMismatchReturnsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	data := []byte("some bytes")
	h := hashOf(data)
	require.NoError(t, s.Write(h, data))

	_, err = s.Read(h, len(data)+5)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDeleteRemovesBlock(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	data := []byte("to be deleted")
	h := hashOf(data)
	require.NoError(t, s.Write(h, data))
	require.NoError(t, s.Delete(h))

	_, err = s.Read(h, len(data))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	var h chunk.Hash
	err = s.Delete(h)
	assert.ErrorIs(t, err, ErrNotFound)
}
