// journal.go implements crash-consistent persistence for the Index using
// a memory-mapped, append-only log.
//
// File format:
//
//	Header (64 bytes):
//	  Magic:       "BCIX" (4 bytes)
//	  Version:     uint16 (2 bytes)
//	  EntryCount:  uint32 (4 bytes)
//	  NextOffset:  uint64 (8 bytes)
//	  Reserved:    46 bytes
//
//	Entries (variable length), each starting with a 1-byte type tag:
//	  0 insertBlock:  hash[32] length:uint64
//	  1 setRefcount:  hash[32] refcount:uint64   (refcount 0 means removed)
//	  2 putManifest:  fileIDLen:uint16 fileID totalLength:uint64 hashCount:uint32 hash[32]*hashCount
//	  3 deleteManifest: fileIDLen:uint16 fileID
//
// On open the log is replayed from the header's recorded entry range to
// reconstruct the in-memory maps. A mutation is durable once its entry has
// been written into the mapped region and the region has been msync'd.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	journalMagic       = "BCIX"
	journalVersion     = uint16(1)
	journalHeaderSize  = 64
	journalInitialSize = 4 * 1024 * 1024
	journalGrowthFactor = 2

	entryInsertBlock    uint8 = 0
	entrySetRefcount    uint8 = 1
	entryPutManifest    uint8 = 2
	entryDeleteManifest uint8 = 3

	// compactionThreshold bounds unbounded journal growth: the mutation
	// whose entry brings the journal's entry count (which includes the
	// records written by the last compaction) to this many ends with a
	// full-state rewrite.
	compactionThreshold = 10000
)

var (
	// ErrJournalCorrupt is returned when the journal's header fails
	// validation (bad magic or truncated file).
	ErrJournalCorrupt = errors.New("index: journal corrupted")

	// ErrJournalVersionMismatch is returned when the on-disk journal was
	// written by an incompatible format version.
	ErrJournalVersionMismatch = errors.New("index: journal version mismatch")
)

type journalHeader struct {
	Magic      [4]byte
	Version    uint16
	EntryCount uint32
	NextOffset uint64
}

// journal is the mmap-backed persister for Index mutations.
type journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	size   uint64
	header journalHeader
	closed bool
}

// openJournal opens or creates the journal file at <dir>/index.
func openJournal(dir string) (*journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create dir: %w", err)
	}

	path := filepath.Join(dir, "index")
	j := &journal{path: path}

	if _, err := os.Stat(path); err == nil {
		if err := j.openExisting(); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := j.createNew(); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("index: stat journal: %w", err)
	}

	return j, nil
}

func (j *journal) createNew() error {
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("index: create journal: %w", err)
	}
	if err := f.Truncate(journalInitialSize); err != nil {
		f.Close()
		return fmt.Errorf("index: truncate journal: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, journalInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("index: mmap journal: %w", err)
	}

	j.file = f
	j.data = data
	j.size = journalInitialSize
	j.header = journalHeader{Version: journalVersion, NextOffset: journalHeaderSize}
	copy(j.header.Magic[:], journalMagic)
	j.writeHeader()
	return unix.Msync(j.data, unix.MS_SYNC)
}

func (j *journal) openExisting() error {
	f, err := os.OpenFile(j.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("index: open journal: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("index: stat journal: %w", err)
	}
	size := uint64(info.Size())
	if size < journalHeaderSize {
		f.Close()
		return ErrJournalCorrupt
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("index: mmap journal: %w", err)
	}

	j.file = f
	j.data = data
	j.size = size

	var h journalHeader
	copy(h.Magic[:], data[0:4])
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	h.EntryCount = binary.LittleEndian.Uint32(data[6:10])
	h.NextOffset = binary.LittleEndian.Uint64(data[10:18])

	if string(h.Magic[:]) != journalMagic {
		j.closeLocked()
		return ErrJournalCorrupt
	}
	if h.Version != journalVersion {
		j.closeLocked()
		return ErrJournalVersionMismatch
	}
	j.header = h
	return nil
}

func (j *journal) writeHeader() {
	copy(j.data[0:4], j.header.Magic[:])
	binary.LittleEndian.PutUint16(j.data[4:6], j.header.Version)
	binary.LittleEndian.PutUint32(j.data[6:10], j.header.EntryCount)
	binary.LittleEndian.PutUint64(j.data[10:18], j.header.NextOffset)
}

// ensureSpace grows the mapped region, doubling until it can hold n more
// bytes past the current write offset.
func (j *journal) ensureSpace(n uint64) error {
	if j.header.NextOffset+n <= j.size {
		return nil
	}

	newSize := j.size
	for j.header.NextOffset+n > newSize {
		newSize *= journalGrowthFactor
	}

	if err := unix.Munmap(j.data); err != nil {
		return fmt.Errorf("index: munmap for growth: %w", err)
	}
	if err := j.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("index: truncate for growth: %w", err)
	}
	data, err := unix.Mmap(int(j.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("index: remap after growth: %w", err)
	}
	j.data = data
	j.size = newSize
	return nil
}

func (j *journal) appendInsertBlock(h [32]byte, length uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("index: journal closed")
	}

	const n = 1 + 32 + 8
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entryInsertBlock
	off++
	copy(j.data[off:], h[:])
	off += 32
	binary.LittleEndian.PutUint64(j.data[off:], length)
	off += 8

	return j.commit(off)
}

func (j *journal) appendSetRefcount(h [32]byte, refcount uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("index: journal closed")
	}

	const n = 1 + 32 + 8
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entrySetRefcount
	off++
	copy(j.data[off:], h[:])
	off += 32
	binary.LittleEndian.PutUint64(j.data[off:], refcount)
	off += 8

	return j.commit(off)
}

func (j *journal) appendPutManifest(fileID string, totalLength uint64, hashes [][32]byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("index: journal closed")
	}

	n := uint64(1+2+len(fileID)+8+4) + uint64(len(hashes))*32
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entryPutManifest
	off++
	binary.LittleEndian.PutUint16(j.data[off:], uint16(len(fileID)))
	off += 2
	copy(j.data[off:], fileID)
	off += uint64(len(fileID))
	binary.LittleEndian.PutUint64(j.data[off:], totalLength)
	off += 8
	binary.LittleEndian.PutUint32(j.data[off:], uint32(len(hashes)))
	off += 4
	for _, h := range hashes {
		copy(j.data[off:], h[:])
		off += 32
	}

	return j.commit(off)
}

func (j *journal) appendDeleteManifest(fileID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("index: journal closed")
	}

	n := uint64(1 + 2 + len(fileID))
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entryDeleteManifest
	off++
	binary.LittleEndian.PutUint16(j.data[off:], uint16(len(fileID)))
	off += 2
	copy(j.data[off:], fileID)
	off += uint64(len(fileID))

	return j.commit(off)
}

// commit advances the write offset, bumps the entry count, persists the
// header, and flushes the mapped region so the entry is durable before
// returning to the caller.
func (j *journal) commit(newOffset uint64) error {
	j.header.NextOffset = newOffset
	j.header.EntryCount++
	j.writeHeader()
	return unix.Msync(j.data[:j.header.NextOffset], unix.MS_SYNC)
}

// needsCompaction reports whether the entry count has crossed the
// threshold at which a full-state rewrite is worthwhile.
func (j *journal) needsCompaction() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.EntryCount >= compactionThreshold
}

// compactionEntry is a single full-state record emitted during
// compaction: either a block (with its current refcount) or a manifest.
type compactionEntry struct {
	isManifest  bool
	hash        [32]byte
	length      uint64
	refcount    uint64
	fileID      string
	totalLength uint64
	hashes      [][32]byte
}

// compact rewrites the journal as a minimal sequence of entries
// reconstructing the current state, discarding the mutation history that
// produced it. Called by the Index once needsCompaction reports true.
func (j *journal) compact(entries []compactionEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("index: journal closed")
	}

	if err := unix.Munmap(j.data); err != nil {
		return fmt.Errorf("index: munmap for compaction: %w", err)
	}

	if err := j.file.Truncate(journalInitialSize); err != nil {
		return fmt.Errorf("index: truncate for compaction: %w", err)
	}
	data, err := unix.Mmap(int(j.file.Fd()), 0, journalInitialSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("index: remap for compaction: %w", err)
	}
	j.data = data
	j.size = journalInitialSize
	j.header = journalHeader{Version: journalVersion, NextOffset: journalHeaderSize}
	copy(j.header.Magic[:], journalMagic)
	j.writeHeader()

	for _, e := range entries {
		if e.isManifest {
			if err := j.appendPutManifestLocked(e.fileID, e.totalLength, e.hashes); err != nil {
				return err
			}
			continue
		}
		if err := j.appendInsertBlockLocked(e.hash, e.length); err != nil {
			return err
		}
		if e.refcount != 1 {
			if err := j.appendSetRefcountLocked(e.hash, e.refcount); err != nil {
				return err
			}
		}
	}

	return unix.Msync(j.data[:j.header.NextOffset], unix.MS_SYNC)
}

// The appendXLocked variants assume the caller already holds j.mu (used
// only from within compact, which takes the lock itself).

func (j *journal) appendInsertBlockLocked(h [32]byte, length uint64) error {
	const n = 1 + 32 + 8
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entryInsertBlock
	off++
	copy(j.data[off:], h[:])
	off += 32
	binary.LittleEndian.PutUint64(j.data[off:], length)
	off += 8
	j.header.NextOffset = off
	j.header.EntryCount++
	j.writeHeader()
	return nil
}

func (j *journal) appendSetRefcountLocked(h [32]byte, refcount uint64) error {
	const n = 1 + 32 + 8
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entrySetRefcount
	off++
	copy(j.data[off:], h[:])
	off += 32
	binary.LittleEndian.PutUint64(j.data[off:], refcount)
	off += 8
	j.header.NextOffset = off
	j.header.EntryCount++
	j.writeHeader()
	return nil
}

func (j *journal) appendPutManifestLocked(fileID string, totalLength uint64, hashes [][32]byte) error {
	n := uint64(1+2+len(fileID)+8+4) + uint64(len(hashes))*32
	if err := j.ensureSpace(n); err != nil {
		return err
	}
	off := j.header.NextOffset
	j.data[off] = entryPutManifest
	off++
	binary.LittleEndian.PutUint16(j.data[off:], uint16(len(fileID)))
	off += 2
	copy(j.data[off:], fileID)
	off += uint64(len(fileID))
	binary.LittleEndian.PutUint64(j.data[off:], totalLength)
	off += 8
	binary.LittleEndian.PutUint32(j.data[off:], uint32(len(hashes)))
	off += 4
	for _, h := range hashes {
		copy(j.data[off:], h[:])
		off += 32
	}
	j.header.NextOffset = off
	j.header.EntryCount++
	j.writeHeader()
	return nil
}

// recover replays every entry from the header up to NextOffset, invoking
// the corresponding apply callback for each. Used once at open time to
// rebuild the in-memory maps.
func (j *journal) recover(apply func(entryKind uint8, h [32]byte, length, refcount uint64, fileID string, totalLength uint64, hashes [][32]byte)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	off := uint64(journalHeaderSize)
	for off < j.header.NextOffset {
		kind := j.data[off]
		off++

		switch kind {
		case entryInsertBlock:
			var h [32]byte
			copy(h[:], j.data[off:off+32])
			off += 32
			length := binary.LittleEndian.Uint64(j.data[off : off+8])
			off += 8
			apply(kind, h, length, 0, "", 0, nil)

		case entrySetRefcount:
			var h [32]byte
			copy(h[:], j.data[off:off+32])
			off += 32
			refcount := binary.LittleEndian.Uint64(j.data[off : off+8])
			off += 8
			apply(kind, h, 0, refcount, "", 0, nil)

		case entryPutManifest:
			idLen := binary.LittleEndian.Uint16(j.data[off : off+2])
			off += 2
			fileID := string(j.data[off : off+uint64(idLen)])
			off += uint64(idLen)
			totalLength := binary.LittleEndian.Uint64(j.data[off : off+8])
			off += 8
			hashCount := binary.LittleEndian.Uint32(j.data[off : off+4])
			off += 4
			hashes := make([][32]byte, hashCount)
			for i := range hashes {
				copy(hashes[i][:], j.data[off:off+32])
				off += 32
			}
			apply(kind, [32]byte{}, 0, 0, fileID, totalLength, hashes)

		case entryDeleteManifest:
			idLen := binary.LittleEndian.Uint16(j.data[off : off+2])
			off += 2
			fileID := string(j.data[off : off+uint64(idLen)])
			off += uint64(idLen)
			apply(kind, [32]byte{}, 0, 0, fileID, 0, nil)

		default:
			return fmt.Errorf("%w: unknown entry type %d at offset %d", ErrJournalCorrupt, kind, off-1)
		}
	}
	return nil
}

func (j *journal) closeLocked() {
	if j.data != nil {
		unix.Munmap(j.data)
		j.data = nil
	}
	if j.file != nil {
		j.file.Close()
	}
	j.closed = true
}

func (j *journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closeLocked()
	return nil
}
