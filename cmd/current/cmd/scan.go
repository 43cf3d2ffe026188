package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-drift/current/cmd/current/internal/config"
	"github.com/go-drift/current/cmd/current/internal/scan"
)

func init() {
	RegisterCommand(&Command{
		Name:  "scan",
		Short: "List provider declarations found in source",
		Long: `Statically scan Go source for provider declarations.

Finds calls to the provider constructors (New, NewState, NewAsync,
NewNotifier, NewFamily, NewAsyncFamily), records each declaration's name,
kind, and position, and lists the providers its factory watches. The report
is written as YAML.

Directories default to the scan.dirs list in current.yaml, or the project
root when unset. Test files, vendor, and testdata are skipped.`,
		Usage: "current scan [dir ...] [-o report.yaml]",
		Run:   runScan,
	})
}

func runScan(args []string) error {
	var dirs []string
	var outPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 >= len(args) {
				return fmt.Errorf("-o requires a file path")
			}
			outPath = args[i+1]
			i++
		default:
			dirs = append(dirs, args[i])
		}
	}

	// The module path and any missing settings come from the project root.
	// Scanning outside a module still works with explicit directories.
	var module string
	if root, err := config.FindProjectRoot(); err == nil {
		cfg, err := config.Resolve(root)
		if err != nil {
			return err
		}
		module = cfg.ModulePath
		if len(dirs) == 0 {
			for _, d := range cfg.ScanDirs {
				dirs = append(dirs, filepath.Join(root, d))
			}
		}
		if outPath == "" && cfg.ScanOut != "" {
			outPath = filepath.Join(root, cfg.ScanOut)
		}
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no directories given and no go.mod found\n\nUsage: current scan <dir>")
	}

	report, err := scan.Scan(module, dirs)
	if err != nil {
		return err
	}

	if outPath == "" {
		return report.EncodeYAML(os.Stdout)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if err := report.EncodeYAML(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Found %d providers, report written to %s\n", len(report.Providers), outPath)
	return nil
}
