package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// parseBlockSize accepts a plain byte count or a size with a KB/MB/GB
// suffix (case-insensitive), e.g. "64KB", "1MB", "4194304".
func parseBlockSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	multiplier := uint64(1)
	switch {
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1 << 10
		s = s[:len(s)-2]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block size %q: %w", s, err)
	}
	return n * multiplier, nil
}

// formatSize renders a byte count in the largest whole unit that keeps
// the value readable, matching the cache's own B/KB/MB/GB convention.
func formatSize(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
