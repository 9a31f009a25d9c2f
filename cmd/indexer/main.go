// Command indexer is the CLI shell around the indexing engine: it wires the
// configuration, embedding provider, local vector store, and the indexer
// façade together, and carries no indexing logic of its own.
package main

import (
	"fmt"
	"os"

	"github.com/artk0de/TeaRAGs-MCP-sub002/cmd/indexer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
