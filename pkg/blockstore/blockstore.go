// Package blockstore persists and retrieves immutable byte blocks keyed by
// content hash on local disk.
//
// Block bytes live at <base>/<shard>/<hash> where shard is the first two
// hex characters of the hash, fanning writes out across 256 directories to
// keep per-directory entry counts bounded. Writes go to a temporary sibling
// file that is renamed into place, so a reader never observes a partially
// written block under its final name.
package blockstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/blockcache/internal/logger"
	"github.com/marmos91/blockcache/pkg/chunk"
)

// Sentinel errors returned by Store operations.
var (
	// ErrAlreadyExists is returned by Write when the target block file is
	// already present. It is informational: the caller has already
	// verified the hash, so the existing contents are equal by
	// construction.
	ErrAlreadyExists = errors.New("blockstore: block already exists")

	// ErrNotFound is returned by Read and Delete when the block file is
	// absent.
	ErrNotFound = errors.New("blockstore: block not found")

	// ErrCorrupt is returned by Read when the on-disk size does not match
	// the length recorded for the block.
	ErrCorrupt = errors.New("blockstore: block size mismatch")
)

// Store is a filesystem-backed, content-addressed block store.
type Store struct {
	mu     sync.RWMutex
	base   string
	closed bool
}

// Open creates (if needed) and returns a Store rooted at base.
func Open(base string) (*Store, error) {
	if base == "" {
		return nil, errors.New("blockstore: base path is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: create base dir: %w", err)
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("blockstore: stat base dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blockstore: base path %q is not a directory", base)
	}
	return &Store{base: base}, nil
}

// path returns the on-disk location for hash, sharded by its first two hex
// characters.
func (s *Store) path(h chunk.Hash) string {
	hex := h.String()
	return filepath.Join(s.base, hex[:2], hex)
}

// Write persists data under hash. If the block already exists, Write is a
// no-op and returns ErrAlreadyExists.
func (s *Store) Write(h chunk.Hash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("blockstore: closed")
	}

	dest := s.path(h)
	if _, err := os.Stat(dest); err == nil {
		return ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("blockstore: stat %s: %w", dest, err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blockstore: mkdir %s: %w", dir, err)
	}

	tmp := dest + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blockstore: write temp file: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blockstore: rename into place: %w", err)
	}

	logger.Debug("block written", logger.KeyHash, h.String(), logger.KeySize, len(data))
	return nil
}

// Read returns the bytes of the block identified by hash. length is the
// expected size recorded in the index; a mismatch against the file's
// actual size is reported as ErrCorrupt rather than silently truncated or
// padded.
func (s *Store) Read(h chunk.Hash, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("blockstore: closed")
	}

	p := s.path(h)
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blockstore: open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blockstore: stat %s: %w", p, err)
	}
	if info.Size() != int64(length) {
		return nil, ErrCorrupt
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("blockstore: read %s: %w", p, err)
	}
	return data, nil
}

// Delete removes the block file for hash. A missing file is tolerated and
// reported as ErrNotFound; callers typically ignore that result since the
// index is authoritative for whether the block should exist.
func (s *Store) Delete(h chunk.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("blockstore: closed")
	}

	p := s.path(h)
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("blockstore: remove %s: %w", p, err)
	}

	s.cleanShardDir(filepath.Dir(p))

	logger.Debug("block deleted", logger.KeyHash, h.String())
	return nil
}

// cleanShardDir removes a shard directory if it has become empty, keeping
// the fan-out tidy without requiring a separate compaction pass.
func (s *Store) cleanShardDir(dir string) {
	if dir == s.base {
		return
	}
	_ = os.Remove(dir) // fails silently if not empty
}

// Close marks the store closed; subsequent operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// BasePath returns the store's root directory.
func (s *Store) BasePath() string {
	return s.base
}
