// Package chunk splits a byte stream into fixed-size blocks and computes
// the content hash of each one.
//
// A stream is split into blocks of exactly Size bytes, except possibly the
// last block which may be shorter. The chunker never buffers more than one
// block's worth of bytes at a time, so memory use is bounded regardless of
// input size.
package chunk

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
)

// HashSize is the length in bytes of a block content hash (SHA-256).
const HashSize = sha256.Size

// Hash identifies a block by the SHA-256 digest of its bytes.
type Hash [HashSize]byte

// String renders the hash as lowercase hex, the form used for on-disk
// block paths and manifest serialization.
func (h Hash) String() string {
	return fmt.Sprintf("%x", [HashSize]byte(h))
}

// IsZero reports whether h is the zero-value hash (never a valid block
// identity, since SHA-256 never hashes to all-zero in practice but the
// zero value is still used as a "no hash" sentinel in a few call sites).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Block is one fixed-size (except possibly the last) segment of an input
// stream, identified by the content hash of exactly Bytes[0:Length].
type Block struct {
	Hash   Hash
	Bytes  []byte
	Length int
}

// Chunker reads an input stream sequentially, yielding one Block per
// BlockSize-sized segment. The final block may be shorter than BlockSize;
// a zero-length input yields zero blocks.
type Chunker struct {
	r         io.Reader
	blockSize int
	buf       []byte
	h         hash.Hash
	err       error
	done      bool
}

// New returns a Chunker reading from r, splitting the stream into blocks
// of at most blockSize bytes. blockSize must be positive.
func New(r io.Reader, blockSize int) (*Chunker, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("chunk: block size must be positive, got %d", blockSize)
	}
	return &Chunker{
		r:         r,
		blockSize: blockSize,
		buf:       make([]byte, blockSize),
		h:         sha256.New(),
	}, nil
}

// Next reads and hashes the next block from the stream. It returns
// io.EOF once the stream is exhausted and no further block is available.
// The returned Block's Bytes slice is only valid until the next call to
// Next; callers that need to retain it must copy.
func (c *Chunker) Next() (Block, error) {
	if c.err != nil {
		return Block{}, c.err
	}
	if c.done {
		return Block{}, io.EOF
	}

	n, err := io.ReadFull(c.r, c.buf)
	switch {
	case err == nil:
		// full block read
	case err == io.ErrUnexpectedEOF:
		// short final block; n holds the valid length
		c.done = true
	case err == io.EOF:
		c.done = true
		if n == 0 {
			return Block{}, io.EOF
		}
	default:
		c.err = err
		return Block{}, err
	}

	c.h.Reset()
	c.h.Write(c.buf[:n])

	var digest Hash
	copy(digest[:], c.h.Sum(nil))

	return Block{Hash: digest, Bytes: c.buf[:n], Length: n}, nil
}

// All drains the chunker into a slice of blocks, copying each block's
// bytes so the result remains valid after the chunker is discarded. It is
// intended for small inputs and tests; callers streaming large files
// should call Next in a loop instead.
func All(r io.Reader, blockSize int) ([]Block, error) {
	c, err := New(r, blockSize)
	if err != nil {
		return nil, err
	}

	var blocks []Block
	for {
		b, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		owned := make([]byte, b.Length)
		copy(owned, b.Bytes)
		blocks = append(blocks, Block{Hash: b.Hash, Bytes: owned, Length: b.Length})
	}
	return blocks, nil
}
