package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagDryRun bool
	flagWait   bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Fully index the codebase",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if flagDryRun {
			env.ix.SetDryRun(true)
		}

		stats, err := env.ix.IndexCodebase(cmd.Context())
		if err != nil {
			return err
		}
		printStats(stats)

		if flagWait {
			if err := env.ix.WaitForEnrichment(cmd.Context()); err != nil {
				fmt.Printf("enrichment: %v\n", err)
			} else if stats.Enrichment != "" {
				fmt.Printf("enrichment: %s\n", env.ix.EnrichmentResult())
			}
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Index only files that changed since the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if flagDryRun {
			env.ix.SetDryRun(true)
		}

		stats, err := env.ix.ReindexChanges(cmd.Context())
		if err != nil {
			return err
		}
		printStats(stats)

		if flagWait {
			if err := env.ix.WaitForEnrichment(cmd.Context()); err != nil {
				fmt.Printf("enrichment: %v\n", err)
			}
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, reindexCmd} {
		c.Flags().BoolVar(&flagDryRun, "dry-run", false, "report what would change without writing")
		c.Flags().BoolVar(&flagWait, "wait", false, "wait for background git enrichment")
	}
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(reindexCmd)
}
