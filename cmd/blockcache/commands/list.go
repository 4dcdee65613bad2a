package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored file identifiers",
	Long:  `List every file identifier currently recorded in the cache, sorted.`,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	ids, err := c.ListFileIDs()
	if err != nil {
		return fmt.Errorf("list file ids: %w", err)
	}

	if len(ids) == 0 {
		fmt.Println("No files stored.")
		return nil
	}

	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
