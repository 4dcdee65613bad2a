// Package blockcache implements the public, file-oriented contract of the
// content-addressed, block-deduplicated cache: store a byte sequence
// under an identifier, retrieve it back, remove it, and report aggregate
// statistics. Internally it drives a Chunker, a content-addressed Block
// Store, and an Index, mediating concurrency with a cache-wide lock.
package blockcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/blockcache/internal/logger"
	"github.com/marmos91/blockcache/pkg/blockstore"
	"github.com/marmos91/blockcache/pkg/chunk"
	"github.com/marmos91/blockcache/pkg/config"
	"github.com/marmos91/blockcache/pkg/index"
	"github.com/marmos91/blockcache/pkg/metrics"
)

// Options configures an Open call. The zero value enables cross-process
// locking and collects no metrics.
type Options struct {
	// DisableProcessLock skips cross-process file locking. Only safe for
	// single-process deployments; see the concurrency model.
	DisableProcessLock bool

	// Metrics receives observations for every operation, or nil to
	// disable metrics entirely (zero overhead).
	Metrics metrics.CacheMetrics
}

// Stats is the aggregate projection returned by GetStats.
type Stats struct {
	BlockCount    uint64
	FileCount     uint64
	PhysicalBytes uint64
	LogicalBytes  uint64
}

// DedupRatio returns LogicalBytes / PhysicalBytes, or 1.0 when nothing has
// been stored yet.
func (s Stats) DedupRatio() float64 {
	if s.PhysicalBytes == 0 {
		return 1.0
	}
	return float64(s.LogicalBytes) / float64(s.PhysicalBytes)
}

// Cache is the orchestrator exposing the public cache operations. A Cache
// is safe for concurrent use by multiple goroutines; concurrent use
// across processes is safe when cross-process locking is enabled (the
// default).
type Cache struct {
	mu sync.RWMutex

	dir       string
	blockSize uint64

	blocks  *blockstore.Store
	idx     *index.Index
	plock   *processLock
	metrics metrics.CacheMetrics

	closed bool
}

// Open opens (creating if necessary) a cache rooted at cacheDir with the
// given block size. Opening an existing cache with a different block
// size, or a different hash algorithm than this build produces, fails
// with ErrConfigMismatch.
func Open(cacheDir string, blockSize uint64, opts Options) (*Cache, error) {
	if blockSize == 0 {
		return nil, newErr("open", fmt.Errorf("%w: block size must be positive", ErrIoError))
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, err))
	}

	existing, err := config.Load(cacheDir)
	switch {
	case err == nil:
		if verr := config.Validate(existing, blockSize); verr != nil {
			return nil, newErr("open", fmt.Errorf("%w: %v", ErrConfigMismatch, verr))
		}
	case errors.Is(err, os.ErrNotExist):
		if serr := config.Save(config.New(blockSize), cacheDir); serr != nil {
			return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, serr))
		}
	default:
		return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, err))
	}

	blocks, err := blockstore.Open(filepath.Join(cacheDir, "blocks"))
	if err != nil {
		return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, err))
	}

	idx, err := index.Open(cacheDir)
	if err != nil {
		blocks.Close()
		return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, err))
	}

	var plock *processLock
	if !opts.DisableProcessLock {
		plock, err = openProcessLock(cacheDir)
		if err != nil {
			idx.Close()
			blocks.Close()
			return nil, newErr("open", fmt.Errorf("%w: %v", ErrIoError, err))
		}
	}

	logger.Info("cache opened", logger.KeyCacheDir, cacheDir, logger.KeyBlockSize, blockSize)

	return &Cache{
		dir:       cacheDir,
		blockSize: blockSize,
		blocks:    blocks,
		idx:       idx,
		plock:     plock,
		metrics:   opts.Metrics,
	}, nil
}

// StoreFile splits the file at sourcePath into blocks, deduplicates them
// against the index, and records a manifest under fileID. If fileID is
// empty, a new opaque identifier is generated. Supplying an existing
// fileID replaces its manifest atomically; any block exclusive to the
// prior manifest is deleted once no manifest references it.
func (c *Cache) StoreFile(sourcePath, fileID string) (string, error) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", newErr("store", ErrClosed)
	}
	if err := c.plock.lockExclusive(); err != nil {
		return "", newErr("store", fmt.Errorf("%w: %v", ErrIoError, err))
	}
	defer c.plock.unlock()

	if fileID == "" {
		fileID = uuid.NewString()
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return "", newFileErr("store", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}
	defer f.Close()

	c1, err := chunk.New(f, int(c.blockSize))
	if err != nil {
		return "", newFileErr("store", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}

	var (
		hashes       []chunk.Hash
		totalLength  uint64
		freshInserts []chunk.Hash // blocks this call inserted at refcount 1
		incremented  []chunk.Hash // blocks this call bumped from an existing refcount
	)

	rollback := func() {
		for _, h := range incremented {
			c.idx.Decref(h)
		}
		for _, h := range freshInserts {
			c.idx.Decref(h)
			c.blocks.Delete(h)
		}
	}

	for {
		b, err := c1.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rollback()
			return "", newFileErr("store", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
		}

		if _, ok := c.idx.LookupBlock(b.Hash); ok {
			if _, err := c.idx.Incref(b.Hash); err != nil {
				rollback()
				return "", newBlockErr("store", fileID, b.Hash.String(), fmt.Errorf("%w: %v", ErrIoError, err))
			}
			incremented = append(incremented, b.Hash)
		} else {
			data := make([]byte, b.Length)
			copy(data, b.Bytes)
			if err := c.blocks.Write(b.Hash, data); err != nil && !errors.Is(err, blockstore.ErrAlreadyExists) {
				rollback()
				return "", newBlockErr("store", fileID, b.Hash.String(), fmt.Errorf("%w: %v", ErrIoError, err))
			}
			if err := c.idx.InsertBlock(b.Hash, uint64(b.Length)); err != nil {
				rollback()
				return "", newBlockErr("store", fileID, b.Hash.String(), fmt.Errorf("%w: %v", ErrIoError, err))
			}
			freshInserts = append(freshInserts, b.Hash)
		}

		hashes = append(hashes, b.Hash)
		totalLength += uint64(b.Length)
	}

	manifest := index.Manifest{FileID: fileID, TotalLength: totalLength, BlockHashes: hashes}
	evicted, err := c.idx.PutManifest(fileID, manifest)
	if err != nil {
		rollback()
		return "", newFileErr("store", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}

	for _, h := range evicted {
		if derr := c.blocks.Delete(h); derr != nil && !errors.Is(derr, blockstore.ErrNotFound) {
			logger.Warn("failed to delete evicted block", logger.KeyHash, h.String(), logger.KeyError, derr.Error())
		}
	}

	logger.Info("file stored", logger.KeyFileID, fileID, logger.KeyBlockCount, len(hashes), logger.KeySize, totalLength, logger.KeyDurationMs, logger.Duration(start))
	metrics.ObserveStore(c.metrics, int64(totalLength), time.Since(start))
	c.recordGaugesLocked()

	return fileID, nil
}

// RetrieveFile reconstructs the file identified by fileID into destPath.
// The caller observes either a complete, correct file or no file at all:
// bytes are assembled into a temporary sibling file and renamed into
// place only on full success.
func (c *Cache) RetrieveFile(fileID, destPath string) error {
	start := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return newErr("retrieve", ErrClosed)
	}
	if err := c.plock.lockShared(); err != nil {
		return newErr("retrieve", fmt.Errorf("%w: %v", ErrIoError, err))
	}
	defer c.plock.unlock()

	manifest, ok := c.idx.GetManifest(fileID)
	if !ok {
		return newFileErr("retrieve", fileID, ErrNotFound)
	}

	tmp := destPath + fmt.Sprintf(".tmp-%d", os.Getpid())
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return newFileErr("retrieve", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}

	for _, h := range manifest.BlockHashes {
		entry, ok := c.idx.LookupBlock(h)
		if !ok {
			out.Close()
			os.Remove(tmp)
			return newBlockErr("retrieve", fileID, h.String(), ErrIntegrity)
		}

		data, err := c.blocks.Read(h, int(entry.Length))
		if err != nil {
			out.Close()
			os.Remove(tmp)
			if errors.Is(err, blockstore.ErrNotFound) || errors.Is(err, blockstore.ErrCorrupt) {
				return newBlockErr("retrieve", fileID, h.String(), ErrIntegrity)
			}
			return newBlockErr("retrieve", fileID, h.String(), fmt.Errorf("%w: %v", ErrIoError, err))
		}

		if _, err := out.Write(data); err != nil {
			out.Close()
			os.Remove(tmp)
			return newFileErr("retrieve", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return newFileErr("retrieve", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return newFileErr("retrieve", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}

	logger.Debug("file retrieved", logger.KeyFileID, fileID, logger.KeySize, manifest.TotalLength)
	metrics.ObserveRetrieve(c.metrics, int64(manifest.TotalLength), time.Since(start))

	return nil
}

// RemoveFile deletes the manifest for fileID and releases the blocks it
// referenced, deleting any block whose refcount reaches zero.
func (c *Cache) RemoveFile(fileID string) error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return newErr("remove", ErrClosed)
	}
	if err := c.plock.lockExclusive(); err != nil {
		return newErr("remove", fmt.Errorf("%w: %v", ErrIoError, err))
	}
	defer c.plock.unlock()

	manifest, ok, err := c.idx.DeleteManifest(fileID)
	if err != nil {
		return newFileErr("remove", fileID, fmt.Errorf("%w: %v", ErrIoError, err))
	}
	if !ok {
		return newFileErr("remove", fileID, ErrNotFound)
	}

	for _, h := range manifest.BlockHashes {
		refcount, err := c.idx.Decref(h)
		if err != nil {
			if errors.Is(err, index.ErrNotPresent) {
				continue
			}
			logger.Warn("failed to decref block during remove", logger.KeyHash, h.String(), logger.KeyError, err.Error())
			continue
		}
		if refcount == 0 {
			if derr := c.blocks.Delete(h); derr != nil && !errors.Is(derr, blockstore.ErrNotFound) {
				logger.Warn("failed to delete reclaimed block", logger.KeyHash, h.String(), logger.KeyError, derr.Error())
			}
		}
	}

	logger.Info("file removed", logger.KeyFileID, fileID)
	metrics.ObserveRemove(c.metrics, time.Since(start))
	c.recordGaugesLocked()

	return nil
}

// Exists reports whether fileID has a manifest, in O(1) via an index
// lookup with no Block Store I/O.
func (c *Cache) Exists(fileID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, newErr("exists", ErrClosed)
	}
	_, ok := c.idx.GetManifest(fileID)
	return ok, nil
}

// ListFileIDs returns every FileId currently stored, sorted.
func (c *Cache) ListFileIDs() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, newErr("list", ErrClosed)
	}
	return c.idx.ListFileIDs(), nil
}

// GetStats returns a read-only projection of the index.
func (c *Cache) GetStats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return Stats{}, newErr("stats", ErrClosed)
	}
	s := c.idx.AggregateStats()
	return Stats{
		BlockCount:    s.BlockCount,
		FileCount:     s.FileCount,
		PhysicalBytes: s.PhysicalBytes,
		LogicalBytes:  s.LogicalBytes,
	}, nil
}

// recordGaugesLocked pushes the current aggregate stats into the metrics
// backend. Must be called with c.mu held (read or write).
func (c *Cache) recordGaugesLocked() {
	s := c.idx.AggregateStats()
	metrics.RecordBlockCount(c.metrics, s.BlockCount)
	metrics.RecordPhysicalBytes(c.metrics, s.PhysicalBytes)
	metrics.RecordLogicalBytes(c.metrics, s.LogicalBytes)
}

// Close releases the cache's file handles. Subsequent operations fail
// with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.idx.Close(); err != nil {
		firstErr = fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if err := c.blocks.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if err := c.plock.close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrIoError, err)
	}

	if firstErr != nil {
		return newErr("close", firstErr)
	}
	return nil
}
