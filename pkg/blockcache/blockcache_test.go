package blockcache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 8

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), testBlockSize, Options{DisableProcessLock: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeSourceFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	data := bytes.Repeat([]byte("ab"), 20) // 40 bytes, 5 full blocks
	src := writeSourceFile(t, srcDir, "a.bin", data)

	fileID, err := c.StoreFile(src, "")
	require.NoError(t, err)
	require.NotEmpty(t, fileID)

	dest := filepath.Join(srcDir, "out.bin")
	require.NoError(t, c.RetrieveFile(fileID, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestExactDuplicateFileDeduplicatesFully(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	data := bytes.Repeat([]byte("xyz"), 30)
	src1 := writeSourceFile(t, srcDir, "one.bin", data)
	src2 := writeSourceFile(t, srcDir, "two.bin", data)

	id1, err := c.StoreFile(src1, "")
	require.NoError(t, err)
	statsAfterFirst, err := c.GetStats()
	require.NoError(t, err)

	id2, err := c.StoreFile(src2, "")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	statsAfterSecond, err := c.GetStats()
	require.NoError(t, err)

	assert.Equal(t, statsAfterFirst.BlockCount, statsAfterSecond.BlockCount)
	assert.Equal(t, statsAfterFirst.PhysicalBytes, statsAfterSecond.PhysicalBytes)
	assert.Greater(t, statsAfterSecond.LogicalBytes, statsAfterFirst.LogicalBytes)
}

func TestPartialOverlapSharesOnlyCommonBlocks(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	block := func(ch byte) []byte { return bytes.Repeat([]byte{ch}, testBlockSize) }
	common := bytes.Join([][]byte{block('1'), block('2'), block('3')}, nil)
	unique1 := bytes.Join([][]byte{block('a'), block('b')}, nil)
	unique2 := bytes.Join([][]byte{block('c'), block('d')}, nil)

	src1 := writeSourceFile(t, srcDir, "f1.bin", append(append([]byte{}, common...), unique1...))
	src2 := writeSourceFile(t, srcDir, "f2.bin", append(append([]byte{}, common...), unique2...))

	_, err := c.StoreFile(src1, "")
	require.NoError(t, err)
	afterFirst, err := c.GetStats()
	require.NoError(t, err)

	_, err = c.StoreFile(src2, "")
	require.NoError(t, err)
	afterSecond, err := c.GetStats()
	require.NoError(t, err)

	// Only the 2 unique blocks from the second file should add new physical blocks.
	assert.Equal(t, afterFirst.BlockCount+2, afterSecond.BlockCount)
}

func TestRemoveReclaimsOnlyOrphanedBlocks(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	shared := bytes.Repeat([]byte("S"), testBlockSize*2)
	onlyInA := bytes.Repeat([]byte("A"), testBlockSize)
	onlyInB := bytes.Repeat([]byte("B"), testBlockSize)

	srcA := writeSourceFile(t, srcDir, "a.bin", append(append([]byte{}, shared...), onlyInA...))
	srcB := writeSourceFile(t, srcDir, "b.bin", append(append([]byte{}, shared...), onlyInB...))

	idA, err := c.StoreFile(srcA, "")
	require.NoError(t, err)
	_, err = c.StoreFile(srcB, "")
	require.NoError(t, err)

	beforeRemove, err := c.GetStats()
	require.NoError(t, err)

	require.NoError(t, c.RemoveFile(idA))

	afterRemove, err := c.GetStats()
	require.NoError(t, err)

	// Only the block exclusive to A (1 block) should be reclaimed; the
	// shared block (used at two positions) remains referenced by B.
	assert.Equal(t, beforeRemove.BlockCount-1, afterRemove.BlockCount)

	exists, err := c.Exists(idA)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTailBlockSmallerThanBlockSize(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	data := bytes.Repeat([]byte("z"), testBlockSize*3+3) // ragged tail
	src := writeSourceFile(t, srcDir, "tail.bin", data)

	fileID, err := c.StoreFile(src, "")
	require.NoError(t, err)

	dest := filepath.Join(srcDir, "out.bin")
	require.NoError(t, c.RetrieveFile(fileID, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEmptyFileRoundTrips(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	src := writeSourceFile(t, srcDir, "empty.bin", nil)

	fileID, err := c.StoreFile(src, "")
	require.NoError(t, err)

	dest := filepath.Join(srcDir, "out.bin")
	require.NoError(t, c.RetrieveFile(fileID, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FileCount)
}

func TestReplaceSameFileIDReleasesOldExclusiveBlocks(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	block := func(ch byte) []byte { return bytes.Repeat([]byte{ch}, testBlockSize) }
	v1 := bytes.Join([][]byte{block('1'), block('2')}, nil)
	v2 := bytes.Join([][]byte{block('3'), block('4')}, nil)

	src1 := writeSourceFile(t, srcDir, "v1.bin", v1)
	src2 := writeSourceFile(t, srcDir, "v2.bin", v2)

	id, err := c.StoreFile(src1, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	id, err = c.StoreFile(src2, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	dest := filepath.Join(srcDir, "out.bin")
	require.NoError(t, c.RetrieveFile("doc-1", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, v2, got)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FileCount)
	assert.Equal(t, uint64(2), stats.BlockCount) // v1's blocks reclaimed
}

func TestRetrieveUnknownFileIDFails(t *testing.T) {
	c := openTestCache(t)
	err := c.RetrieveFile("does-not-exist", filepath.Join(t.TempDir(), "out.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveUnknownFileIDFails(t *testing.T) {
	c := openTestCache(t)
	err := c.RemoveFile("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsMismatchedBlockSize(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testBlockSize, Options{DisableProcessLock: true})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(dir, testBlockSize*2, Options{DisableProcessLock: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestOperationsFailAfterClose(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Close())

	_, err := c.ListFileIDs()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListFileIDsSorted(t *testing.T) {
	c := openTestCache(t)
	srcDir := t.TempDir()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		src := writeSourceFile(t, srcDir, id+".bin", []byte(id))
		_, err := c.StoreFile(src, id)
		require.NoError(t, err)
	}

	ids, err := c.ListFileIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, ids)
}
