package index

import (
	"testing"

	"github.com/marmos91/blockcache/pkg/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHash(b byte) chunk.Hash {
	var h chunk.Hash
	h[0] = b
	return h
}

func TestInsertAndLookupBlock(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(1)
	require.NoError(t, idx.InsertBlock(h, 42))

	e, ok := idx.LookupBlock(h)
	require.True(t, ok)
	assert.Equal(t, uint64(42), e.Length)
	assert.Equal(t, uint64(1), e.Refcount)
}

func TestIncrefDecrefLifecycle(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(2)
	require.NoError(t, idx.InsertBlock(h, 10))

	rc, err := idx.Incref(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rc)

	rc, err = idx.Decref(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rc)

	rc, err = idx.Decref(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rc)

	_, ok := idx.LookupBlock(h)
	assert.False(t, ok, "block entry must be removed once refcount hits zero")
}

func TestDecrefUnknownBlockFails(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Decref(mustHash(9))
	assert.ErrorIs(t, err, ErrNotPresent)
}

func TestPutManifestAndGet(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(3)
	require.NoError(t, idx.InsertBlock(h, 5))

	m := Manifest{FileID: "f1", TotalLength: 5, BlockHashes: []chunk.Hash{h}}
	evicted, err := idx.PutManifest("f1", m)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	got, ok := idx.GetManifest("f1")
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestPutManifestReleasesSharedBlockWithoutTransientZero(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	shared := mustHash(4)
	onlyOld := mustHash(5)

	require.NoError(t, idx.InsertBlock(shared, 1))
	require.NoError(t, idx.InsertBlock(onlyOld, 1))

	oldManifest := Manifest{FileID: "f2", TotalLength: 2, BlockHashes: []chunk.Hash{shared, onlyOld}}
	_, err = idx.PutManifest("f2", oldManifest)
	require.NoError(t, err)

	// Simulate the engine having already bumped the shared block's refcount
	// for the replacement manifest before calling PutManifest again.
	_, err = idx.Incref(shared)
	require.NoError(t, err)

	newManifest := Manifest{FileID: "f2", TotalLength: 1, BlockHashes: []chunk.Hash{shared}}
	evicted, err := idx.PutManifest("f2", newManifest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []chunk.Hash{onlyOld}, evicted)

	e, ok := idx.LookupBlock(shared)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Refcount, "shared block must retain exactly one reference")

	_, ok = idx.LookupBlock(onlyOld)
	assert.False(t, ok)
}

func TestDeleteManifestDoesNotTouchRefcounts(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(6)
	require.NoError(t, idx.InsertBlock(h, 1))
	_, err = idx.PutManifest("f3", Manifest{FileID: "f3", TotalLength: 1, BlockHashes: []chunk.Hash{h}})
	require.NoError(t, err)

	m, ok, err := idx.DeleteManifest("f3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []chunk.Hash{h}, m.BlockHashes)

	e, ok := idx.LookupBlock(h)
	require.True(t, ok, "DeleteManifest must not decref; that is the engine's job")
	assert.Equal(t, uint64(1), e.Refcount)
}

func TestListFileIDsSorted(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		_, err := idx.PutManifest(id, Manifest{FileID: id})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, idx.ListFileIDs())
}

func TestAggregateStats(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h1, h2 := mustHash(7), mustHash(8)
	require.NoError(t, idx.InsertBlock(h1, 100))
	require.NoError(t, idx.InsertBlock(h2, 200))
	_, err = idx.PutManifest("f4", Manifest{FileID: "f4", TotalLength: 300, BlockHashes: []chunk.Hash{h1, h2}})
	require.NoError(t, err)

	stats := idx.AggregateStats()
	assert.Equal(t, uint64(2), stats.BlockCount)
	assert.Equal(t, uint64(1), stats.FileCount)
	assert.Equal(t, uint64(300), stats.PhysicalBytes)
	assert.Equal(t, uint64(300), stats.LogicalBytes)
}

func TestReopenRecoversState(t *testing.T) {
	dir := t.TempDir()

	idx, err := Open(dir)
	require.NoError(t, err)

	h := mustHash(10)
	require.NoError(t, idx.InsertBlock(h, 64))
	_, err = idx.PutManifest("persisted", Manifest{FileID: "persisted", TotalLength: 64, BlockHashes: []chunk.Hash{h}})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	e, ok := reopened.LookupBlock(h)
	require.True(t, ok)
	assert.Equal(t, uint64(64), e.Length)

	m, ok := reopened.GetManifest("persisted")
	require.True(t, ok)
	assert.Equal(t, uint64(64), m.TotalLength)
}

func TestCompactionPreservesState(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	require.NoError(t, err)
	defer idx.Close()

	h1 := mustHash(11)
	require.NoError(t, idx.InsertBlock(h1, 16))
	for i := 0; i < 5; i++ {
		_, err := idx.Incref(h1)
		require.NoError(t, err)
	}

	h2 := mustHash(12)
	require.NoError(t, idx.InsertBlock(h2, 32))
	_, err = idx.PutManifest("persisted", Manifest{
		FileID:      "persisted",
		TotalLength: 48,
		BlockHashes: []chunk.Hash{h1, h2},
	})
	require.NoError(t, err)

	// Drive the journal right up to the real compaction threshold instead
	// of performing 10000 mutations, then let the next write cross it so
	// compact() itself runs rather than a shortcut standing in for it.
	idx.j.mu.Lock()
	idx.j.header.EntryCount = compactionThreshold - 1
	idx.j.writeHeader()
	idx.j.mu.Unlock()
	require.False(t, idx.j.needsCompaction())

	_, err = idx.Incref(h1)
	require.NoError(t, err)

	assert.Less(t, idx.j.header.EntryCount, uint32(compactionThreshold))

	e, ok := idx.LookupBlock(h1)
	require.True(t, ok)
	assert.Equal(t, uint64(7), e.Refcount)

	m, ok := idx.GetManifest("persisted")
	require.True(t, ok)
	assert.Equal(t, uint64(48), m.TotalLength)

	require.NoError(t, idx.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	e1, ok := reopened.LookupBlock(h1)
	require.True(t, ok)
	assert.Equal(t, uint64(7), e1.Refcount)

	e2, ok := reopened.LookupBlock(h2)
	require.True(t, ok)
	assert.Equal(t, uint64(32), e2.Length)

	m, ok = reopened.GetManifest("persisted")
	require.True(t, ok)
	assert.Equal(t, uint64(48), m.TotalLength)
	assert.Len(t, m.BlockHashes, 2)
}
