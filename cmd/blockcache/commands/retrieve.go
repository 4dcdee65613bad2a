package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <file-id> <output-path>",
	Short: "Retrieve a file from the cache",
	Long: `Reconstruct the file stored under file-id into output-path.

Example:
  blockcache retrieve report-v2 ./restored.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: runRetrieve,
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	fileID, outputPath := args[0], args[1]

	c, err := openCache()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	fmt.Printf("Retrieving file with ID: %s\n", fileID)

	start := time.Now()
	if err := c.RetrieveFile(fileID, outputPath); err != nil {
		return fmt.Errorf("retrieve file: %w", err)
	}
	elapsed := time.Since(start)

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", outputPath, err)
	}

	fmt.Printf("File retrieved to: %s\n", outputPath)
	fmt.Printf("File size: %s\n", formatSize(uint64(info.Size())))
	fmt.Printf("Retrieval time: %.2fs\n", elapsed.Seconds())

	return nil
}
