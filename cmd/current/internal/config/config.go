package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// Config represents the optional current.yaml configuration.
type Config struct {
	Graph GraphConfig `yaml:"graph"`
	Scan  ScanConfig  `yaml:"scan"`
}

// GraphConfig contains defaults for the graph command.
type GraphConfig struct {
	// Snapshot is the captured graph to render when no path is given.
	Snapshot string `yaml:"snapshot,omitempty"`
	// Output is where the DOT rendering is written; empty means stdout.
	Output string `yaml:"output,omitempty"`
}

// ScanConfig contains defaults for the scan command.
type ScanConfig struct {
	// Dirs are the directories to scan for provider declarations.
	Dirs []string `yaml:"dirs,omitempty"`
	// Output is where the scan report is written; empty means stdout.
	Output string `yaml:"output,omitempty"`
}

// Resolved contains resolved configuration values.
type Resolved struct {
	Root       string
	ModulePath string
	Snapshot   string
	GraphOut   string
	ScanDirs   []string
	ScanOut    string
}

// LoadOptional reads current.yaml if present.
func LoadOptional(dir string) (*Config, error) {
	path := filepath.Join(dir, "current.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read current.yaml: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse current.yaml: %w", err)
	}

	return &cfg, nil
}

// Resolve loads current.yaml (if present) and resolves defaults.
func Resolve(dir string) (*Resolved, error) {
	modulePath, err := modulePath(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}

	snapshot := cfg.Graph.Snapshot
	if snapshot == "" {
		snapshot = "provider-graph.yaml"
	}

	dirs := cfg.Scan.Dirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	return &Resolved{
		Root:       dir,
		ModulePath: modulePath,
		Snapshot:   snapshot,
		GraphOut:   cfg.Graph.Output,
		ScanDirs:   dirs,
		ScanOut:    cfg.Scan.Output,
	}, nil
}

// FindProjectRoot walks up from the current directory to find go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a Go module (no go.mod found)")
		}
		dir = parent
	}
}

func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("could not determine module path from go.mod")
	}
	return path, nil
}
