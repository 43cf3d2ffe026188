package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-drift/current/cmd/current/internal/config"
	"github.com/go-drift/current/pkg/inspect"
)

func init() {
	RegisterCommand(&Command{
		Name:  "graph",
		Short: "Render a provider graph snapshot as DOT",
		Long: `Render a provider graph snapshot as Graphviz DOT.

The snapshot is a YAML document written by inspect.WriteFile from a running
program. Without arguments the snapshot path comes from current.yaml, which
defaults to provider-graph.yaml at the project root.

With no output flag the DOT document is written to stdout, ready to pipe
into dot(1):

  current graph snapshot.yaml | dot -Tsvg -o graph.svg`,
		Usage: "current graph [snapshot.yaml] [-o graph.dot]",
		Run:   runGraph,
	})
}

func runGraph(args []string) error {
	var snapshotPath, outPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 >= len(args) {
				return fmt.Errorf("-o requires a file path")
			}
			outPath = args[i+1]
			i++
		default:
			if snapshotPath != "" {
				return fmt.Errorf("unexpected argument %q", args[i])
			}
			snapshotPath = args[i]
		}
	}

	// Anything not given on the command line falls back to current.yaml.
	if snapshotPath == "" || outPath == "" {
		if root, err := config.FindProjectRoot(); err == nil {
			cfg, err := config.Resolve(root)
			if err != nil {
				return err
			}
			if snapshotPath == "" {
				snapshotPath = filepath.Join(root, cfg.Snapshot)
			}
			if outPath == "" && cfg.GraphOut != "" {
				outPath = filepath.Join(root, cfg.GraphOut)
			}
		}
	}
	if snapshotPath == "" {
		return fmt.Errorf("no snapshot given and no go.mod found\n\nUsage: current graph <snapshot.yaml>")
	}

	snap, err := inspect.ReadFile(snapshotPath)
	if err != nil {
		return err
	}

	if outPath == "" {
		fmt.Print(snap.DOT())
		return nil
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if err := snap.WriteDOT(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	stats := snap.Stats()
	fmt.Printf("Rendered %d providers across %d scopes to %s\n", stats.Nodes, stats.Scopes, outPath)
	return nil
}
