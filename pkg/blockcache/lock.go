package blockcache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// processLock serializes mutator operations across processes sharing a
// cache directory via an flock on a sentinel file. Readers take a shared
// lock; store/remove take an exclusive lock. A zero-value processLock
// (no file) behaves as a no-op, for single-process deployments that
// opt out of cross-process locking.
type processLock struct {
	f *os.File
}

const lockFileName = "lock"

func openProcessLock(cacheDir string) (*processLock, error) {
	path := cacheDir + string(os.PathSeparator) + lockFileName
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockcache: open lock file: %w", err)
	}
	return &processLock{f: f}, nil
}

func (l *processLock) lockShared() error {
	if l == nil || l.f == nil {
		return nil
	}
	return unix.Flock(int(l.f.Fd()), unix.LOCK_SH)
}

func (l *processLock) lockExclusive() error {
	if l == nil || l.f == nil {
		return nil
	}
	return unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
}

func (l *processLock) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (l *processLock) close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
