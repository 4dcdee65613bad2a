package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <file-id>",
	Short: "Remove a file from the cache",
	Long: `Delete the manifest stored under file-id and reclaim any block no
longer referenced by another file.

Example:
  blockcache remove report-v2`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	c, err := openCache()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	fmt.Printf("Removing file with ID: %s\n", fileID)

	if err := c.RemoveFile(fileID); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	fmt.Println("File removed successfully")

	return printStats(c)
}
