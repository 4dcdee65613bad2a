package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var storeID string

var storeCmd = &cobra.Command{
	Use:   "store <file>",
	Short: "Store a file in the cache",
	Long: `Split a file into blocks, deduplicate against the cache, and record
a manifest under an identifier.

If --id is not supplied, an identifier is derived from the file's path,
size, and modification time.

Examples:
  blockcache store ./report.pdf
  blockcache store ./report.pdf --id report-v2`,
	Args: cobra.ExactArgs(1),
	RunE: runStore,
}

func init() {
	storeCmd.Flags().StringVar(&storeID, "id", "", "identifier to store under (default: derived from the file)")
}

func runStore(cmd *cobra.Command, args []string) error {
	path := args[0]

	id := storeID
	if id == "" {
		var err error
		id, err = mintFileID(path)
		if err != nil {
			return fmt.Errorf("mint file id: %w", err)
		}
	}

	c, err := openCache()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	fmt.Printf("Storing file: %s\n", path)

	start := time.Now()
	fileID, err := c.StoreFile(path, id)
	if err != nil {
		return fmt.Errorf("store file: %w", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("File stored with ID: %s\n", fileID)
	fmt.Printf("Storage time: %.2fs\n", elapsed.Seconds())

	return printStats(c)
}
