package commands

import (
	"fmt"

	"github.com/marmos91/blockcache/pkg/blockcache"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Display aggregate statistics for the cache: block and file counts,
physical bytes stored on disk, logical bytes across all files, and the
resulting deduplication ratio.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	fmt.Printf("Cache directory: %s\n", cacheDir)
	fmt.Printf("Block size: %s\n", blockSizeStr)
	return printStats(c)
}

// printStats prints the cache-wide stats block shared by store, remove,
// and stats.
func printStats(c *blockcache.Cache) error {
	s, err := c.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Cache statistics:")
	fmt.Printf("  Total blocks: %d\n", s.BlockCount)
	fmt.Printf("  Total files: %d\n", s.FileCount)
	fmt.Printf("  Physical storage used: %s\n", formatSize(s.PhysicalBytes))
	fmt.Printf("  Logical storage: %s\n", formatSize(s.LogicalBytes))

	if s.PhysicalBytes > 0 {
		fmt.Printf("  Deduplication ratio: %.2fx\n", s.DedupRatio())
		fmt.Printf("  Space saved: %s\n", formatSize(s.LogicalBytes-s.PhysicalBytes))
	}

	return nil
}
