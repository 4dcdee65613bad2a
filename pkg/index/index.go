// Package index maintains the two persistent maps backing the cache:
// content hash to BlockEntry, and FileId to Manifest. It enforces the
// refcount invariant across both maps and durably records every mutation
// before returning to the caller.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/blockcache/pkg/chunk"
)

// ErrNotPresent is returned by operations that require an existing block
// entry (Incref, Decref) when the hash is unknown to the index.
var ErrNotPresent = errors.New("index: block not present")

// BlockEntry records the durable state of one unique block: its length
// and how many manifest slots reference it.
type BlockEntry struct {
	Length   uint64
	Refcount uint64
}

// Manifest is the ordered list of block hashes (plus total length) that
// reconstitutes a stored file.
type Manifest struct {
	FileID      string
	TotalLength uint64
	BlockHashes []chunk.Hash
}

// Stats is the aggregate projection returned by AggregateStats.
type Stats struct {
	BlockCount    uint64
	FileCount     uint64
	PhysicalBytes uint64
	LogicalBytes  uint64
}

// Index holds the in-memory maps and their crash-consistent journal.
// All exported methods are safe for concurrent use; callers that need a
// multi-step operation to be atomic (e.g. the Cache Engine's store/remove)
// must still coordinate externally, per the cache-wide lock described in
// the concurrency model.
type Index struct {
	mu        sync.RWMutex
	blocks    map[chunk.Hash]BlockEntry
	manifests map[string]Manifest
	j         *journal
}

// Open loads (or creates) the index journal under dir and replays it to
// reconstruct the in-memory maps.
func Open(dir string) (*Index, error) {
	j, err := openJournal(dir)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		blocks:    make(map[chunk.Hash]BlockEntry),
		manifests: make(map[string]Manifest),
		j:         j,
	}

	err = j.recover(func(kind uint8, h [32]byte, length, refcount uint64, fileID string, totalLength uint64, hashes [][32]byte) {
		switch kind {
		case entryInsertBlock:
			idx.blocks[chunk.Hash(h)] = BlockEntry{Length: length, Refcount: 1}
		case entrySetRefcount:
			e, ok := idx.blocks[chunk.Hash(h)]
			if !ok {
				return
			}
			if refcount == 0 {
				delete(idx.blocks, chunk.Hash(h))
				return
			}
			e.Refcount = refcount
			idx.blocks[chunk.Hash(h)] = e
		case entryPutManifest:
			hs := make([]chunk.Hash, len(hashes))
			for i, raw := range hashes {
				hs[i] = chunk.Hash(raw)
			}
			idx.manifests[fileID] = Manifest{FileID: fileID, TotalLength: totalLength, BlockHashes: hs}
		case entryDeleteManifest:
			delete(idx.manifests, fileID)
		}
	})
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("index: recover: %w", err)
	}

	return idx, nil
}

// LookupBlock returns the BlockEntry for hash, if present.
func (idx *Index) LookupBlock(h chunk.Hash) (BlockEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.blocks[h]
	return e, ok
}

// InsertBlock records a newly-written block with refcount 1. The caller
// must ensure hash is not already present.
func (idx *Index) InsertBlock(h chunk.Hash, length uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.j.appendInsertBlock(h, length); err != nil {
		return fmt.Errorf("index: insert block: %w", err)
	}
	idx.blocks[h] = BlockEntry{Length: length, Refcount: 1}
	return idx.maybeCompactLocked()
}

// Incref increments the reference count for an existing block and returns
// the new count.
func (idx *Index) Incref(h chunk.Hash) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.blocks[h]
	if !ok {
		return 0, ErrNotPresent
	}
	e.Refcount++
	if err := idx.j.appendSetRefcount(h, e.Refcount); err != nil {
		return 0, fmt.Errorf("index: incref: %w", err)
	}
	idx.blocks[h] = e
	return e.Refcount, idx.maybeCompactLocked()
}

// Decref decrements the reference count for an existing block. When the
// count reaches zero the entry is removed and the returned count is 0;
// the caller is then responsible for deleting the block's bytes from the
// Block Store.
func (idx *Index) Decref(h chunk.Hash) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.blocks[h]
	if !ok {
		return 0, ErrNotPresent
	}

	if e.Refcount <= 1 {
		if err := idx.j.appendSetRefcount(h, 0); err != nil {
			return 0, fmt.Errorf("index: decref: %w", err)
		}
		delete(idx.blocks, h)
		return 0, idx.maybeCompactLocked()
	}

	e.Refcount--
	if err := idx.j.appendSetRefcount(h, e.Refcount); err != nil {
		return 0, fmt.Errorf("index: decref: %w", err)
	}
	idx.blocks[h] = e
	return e.Refcount, idx.maybeCompactLocked()
}

// GetManifest returns the manifest for fileID, if present.
func (idx *Index) GetManifest(fileID string) (Manifest, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.manifests[fileID]
	return m, ok
}

// PutManifest records m under fileID. If a manifest already exists for
// fileID, its block references are released (decremented) after the new
// manifest is installed, so that blocks shared between the old and new
// manifest never transiently reach refcount zero. The caller must have
// already accounted for the new manifest's block references (via
// LookupBlock/Incref or InsertBlock) before calling PutManifest. Returns
// the hashes whose refcount reached zero as a result of releasing the
// prior manifest; the caller must delete those blocks from the Block
// Store.
func (idx *Index) PutManifest(fileID string, m Manifest) ([]chunk.Hash, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	raw := make([][32]byte, len(m.BlockHashes))
	for i, h := range m.BlockHashes {
		raw[i] = h
	}
	if err := idx.j.appendPutManifest(fileID, m.TotalLength, raw); err != nil {
		return nil, fmt.Errorf("index: put manifest: %w", err)
	}

	old, existed := idx.manifests[fileID]
	idx.manifests[fileID] = m

	if !existed {
		return nil, idx.maybeCompactLocked()
	}

	var evicted []chunk.Hash
	for _, h := range old.BlockHashes {
		e, ok := idx.blocks[h]
		if !ok {
			continue
		}
		if e.Refcount <= 1 {
			if err := idx.j.appendSetRefcount(h, 0); err != nil {
				return nil, fmt.Errorf("index: release prior manifest: %w", err)
			}
			delete(idx.blocks, h)
			evicted = append(evicted, h)
			continue
		}
		e.Refcount--
		if err := idx.j.appendSetRefcount(h, e.Refcount); err != nil {
			return nil, fmt.Errorf("index: release prior manifest: %w", err)
		}
		idx.blocks[h] = e
	}

	return evicted, idx.maybeCompactLocked()
}

// DeleteManifest removes and returns the manifest for fileID, if present.
// It does not touch block refcounts; the caller (the Cache Engine's
// remove_file) is responsible for decrementing each referenced hash.
func (idx *Index) DeleteManifest(fileID string) (Manifest, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	m, ok := idx.manifests[fileID]
	if !ok {
		return Manifest{}, false, nil
	}
	if err := idx.j.appendDeleteManifest(fileID); err != nil {
		return Manifest{}, false, fmt.Errorf("index: delete manifest: %w", err)
	}
	delete(idx.manifests, fileID)
	return m, true, idx.maybeCompactLocked()
}

// ListFileIDs returns every FileId with a manifest, sorted for
// deterministic iteration.
func (idx *Index) ListFileIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.manifests))
	for id := range idx.manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AggregateStats computes the read-only projection over both maps.
func (idx *Index) AggregateStats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var s Stats
	s.BlockCount = uint64(len(idx.blocks))
	for _, e := range idx.blocks {
		s.PhysicalBytes += e.Length
	}
	s.FileCount = uint64(len(idx.manifests))
	for _, m := range idx.manifests {
		s.LogicalBytes += m.TotalLength
	}
	return s
}

// maybeCompactLocked rewrites the journal as a minimal full-state log
// once the mutation history has grown past compactionThreshold. Must be
// called with idx.mu held.
func (idx *Index) maybeCompactLocked() error {
	if !idx.j.needsCompaction() {
		return nil
	}

	entries := make([]compactionEntry, 0, len(idx.blocks)+len(idx.manifests))
	for h, e := range idx.blocks {
		entries = append(entries, compactionEntry{hash: h, length: e.Length, refcount: e.Refcount})
	}
	for id, m := range idx.manifests {
		raw := make([][32]byte, len(m.BlockHashes))
		for i, h := range m.BlockHashes {
			raw[i] = h
		}
		entries = append(entries, compactionEntry{isManifest: true, fileID: id, totalLength: m.TotalLength, hashes: raw})
	}

	return idx.j.compact(entries)
}

// Close releases the journal's mapped region and file handle.
func (idx *Index) Close() error {
	return idx.j.Close()
}
