package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/indexer"
)

var (
	flagLimit  int
	flagPreset string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed codebase",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		query := strings.Join(args, " ")
		limit := flagLimit
		if limit <= 0 {
			limit = env.cfg.Search.MaxResults
		}

		results, err := env.ix.Search(cmd.Context(), query, limit, flagPreset)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		printResults(results)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "n", 0, "maximum results")
	searchCmd.Flags().StringVar(&flagPreset, "preset", "relevance", "reranker preset (relevance, hotspots, techDebt, ...)")
	rootCmd.AddCommand(searchCmd)
}

func printResults(results []indexer.SearchResult) {
	for i, r := range results {
		path, _ := r.Payload["relativePath"].(string)
		name, _ := r.Payload["name"].(string)
		start := payloadInt(r.Payload, "startLine")
		end := payloadInt(r.Payload, "endLine")

		header := fmt.Sprintf("%d. %s:%d-%d", i+1, path, start, end)
		if name != "" {
			header += "  " + name
		}
		fmt.Printf("%s  (score %.3f)\n", header, r.Score)

		if content, ok := r.Payload["content"].(string); ok {
			fmt.Println(indent(firstLines(content, 4), "   "))
		}
	}
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
