package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/indexer"
)

const timeRound = 10 * time.Millisecond

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index state for this codebase",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		info, err := env.ix.Info(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Collection:     %s\n", info.Collection)
		fmt.Printf("Points:         %d\n", info.PointCount)
		fmt.Printf("Schema version: %d\n", info.SchemaVersion)
		fmt.Printf("Model:          %s (%d dims, hybrid=%v)\n", info.Model, info.Dimensions, info.Hybrid)
		if info.SnapshotRoot != "" {
			fmt.Printf("Snapshot:       %d files, root %s\n", info.SnapshotFiles, info.SnapshotRoot[:12])
		} else {
			fmt.Println("Snapshot:       none")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printStats(stats *indexer.Stats) {
	fmt.Printf("Scanned %d files, indexed %d (%d chunks) in %s\n",
		stats.FilesScanned, stats.FilesIndexed, stats.ChunksCreated, stats.Elapsed.Round(timeRound))
	if stats.FilesAdded+stats.FilesModified+stats.FilesDeleted > 0 {
		fmt.Printf("Changes: +%d added, ~%d modified, -%d deleted (chunks +%d/-%d)\n",
			stats.FilesAdded, stats.FilesModified, stats.FilesDeleted,
			stats.ChunksAdded, stats.ChunksDeleted)
	}
	fmt.Printf("Status: %s", stats.Status)
	if stats.Enrichment != "" {
		fmt.Printf(" (git enrichment: %s)", stats.Enrichment)
	}
	fmt.Println()
	if stats.Errors > 0 {
		fmt.Printf("Errors: %d (see logs)\n", stats.Errors)
	}
}
