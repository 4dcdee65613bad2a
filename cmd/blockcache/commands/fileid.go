package commands

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// mintFileID derives a stable identifier from a source file's path, size,
// and modification time, for callers of "store" that don't supply --id.
// This mirrors the original Python cache's path-derived ID scheme; the
// engine itself never mints an identifier on the caller's behalf from a
// path, only from an opaque UUID when fileID is empty.
func mintFileID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	pathHash := fmt.Sprintf("%x", md5.Sum([]byte(path)))[:16]
	clean := cleanForID(filepath.Base(path))

	return fmt.Sprintf("%s_%s_%d_%d", clean, pathHash, info.Size(), info.ModTime().Unix()), nil
}

// cleanForID keeps only alphanumerics, dots, underscores, and hyphens,
// truncated to 20 characters, matching the original's filename scrubbing.
func cleanForID(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 20 {
		s = s[:20]
	}
	return s
}
