package blockcache

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy. Use errors.Is
// against these; a *CacheError always wraps exactly one of them.
var (
	// ErrIoError wraps an underlying filesystem error (permission,
	// ENOSPC, or another transient I/O failure).
	ErrIoError = errors.New("blockcache: i/o error")

	// ErrNotFound indicates the requested file_id has no manifest. A
	// missing block referenced by a manifest is reported as ErrIntegrity.
	ErrNotFound = errors.New("blockcache: not found")

	// ErrIntegrity indicates a referenced block is missing from the index
	// or the Block Store, or its file has the wrong size. Block contents
	// are not re-hashed on retrieval.
	ErrIntegrity = errors.New("blockcache: integrity error")

	// ErrConfigMismatch indicates the cache was opened with a block size
	// or hash algorithm incompatible with its existing on-disk config.
	ErrConfigMismatch = errors.New("blockcache: config mismatch")

	// ErrAlreadyExists is informational, surfaced only between the Block
	// Store and the engine; callers of the public API should not see it.
	ErrAlreadyExists = errors.New("blockcache: already exists")

	// ErrClosed is returned by any operation on a cache that has been
	// closed.
	ErrClosed = errors.New("blockcache: cache is closed")
)

// CacheError wraps one of the sentinel errors above with the operation
// and identifiers involved, so callers get both a matchable error class
// (via errors.Is/errors.As) and enough context to act on it.
type CacheError struct {
	// Op names the failing operation: "open", "store", "retrieve",
	// "remove", "exists", "stats", "list", "close".
	Op string

	// FileID is the file identifier involved, if any.
	FileID string

	// Hash is the block hash involved, if any, hex-encoded.
	Hash string

	// Err is the wrapped sentinel error.
	Err error
}

// Error renders a human-readable description including the operation and
// whichever identifiers are set.
func (e *CacheError) Error() string {
	switch {
	case e.FileID != "" && e.Hash != "":
		return fmt.Sprintf("blockcache %s: %s (file_id=%s, hash=%s)", e.Op, e.Err, e.FileID, e.Hash)
	case e.FileID != "":
		return fmt.Sprintf("blockcache %s: %s (file_id=%s)", e.Op, e.Err, e.FileID)
	case e.Hash != "":
		return fmt.Sprintf("blockcache %s: %s (hash=%s)", e.Op, e.Err, e.Hash)
	default:
		return fmt.Sprintf("blockcache %s: %s", e.Op, e.Err)
	}
}

// Unwrap returns the wrapped sentinel, enabling errors.Is/errors.As to
// match through CacheError.
func (e *CacheError) Unwrap() error {
	return e.Err
}

func newErr(op string, err error) *CacheError {
	return &CacheError{Op: op, Err: err}
}

func newFileErr(op, fileID string, err error) *CacheError {
	return &CacheError{Op: op, FileID: fileID, Err: err}
}

func newBlockErr(op, fileID, hash string, err error) *CacheError {
	return &CacheError{Op: op, FileID: fileID, Hash: hash, Err: err}
}
