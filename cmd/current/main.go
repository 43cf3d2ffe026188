// Command current is the devtool CLI for the current provider runtime.
// It scans Go source for provider declarations and renders captured
// graph snapshots as Graphviz DOT.
package main

import (
	"fmt"
	"os"

	"github.com/go-drift/current/cmd/current/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
