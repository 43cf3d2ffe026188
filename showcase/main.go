// Package main is the current showcase: a river gauge dashboard built on the
// provider runtime. Simulated gauges feed an async family, the station list
// and alert threshold hot-reload from a YAML file through fswatch, and a
// child scope previews the same graph with overridden display units. On exit
// the program writes a graph snapshot for the current CLI to render.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-drift/current/pkg/fswatch"
	"github.com/go-drift/current/pkg/inspect"
	"github.com/go-drift/current/pkg/provider"
)

const initialConfig = `stations:
  - fork
  - delta
  - bend
alert_level: 3.2
`

// reloadedConfig drops the bend station and lowers the threshold; the
// dashboard picks it up mid-run without restarting.
const reloadedConfig = `stations:
  - fork
  - delta
alert_level: 2.4
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "current-showcase")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfgPath := filepath.Join(dir, "showcase.yaml")
	if err := os.WriteFile(cfgPath, []byte(initialConfig), 0o644); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	scope := provider.NewScope(
		provider.WithLabel("showcase"),
		provider.WithObserver(provider.NewLogObserver(logger)),
	)
	defer scope.Dispose()

	watcher, err := fswatch.New(scope)
	if err != nil {
		return err
	}
	cfgFile, err := watcher.File(cfgPath)
	if err != nil {
		return err
	}

	dash := newDashboard(cfgFile)

	sub := provider.Observe(scope, dash.summary, func(s string) {
		fmt.Println(s)
	})
	defer sub.Close()

	// The preview scope shares every gauge with the root but displays in
	// feet; only summary and units are re-instantiated under the override.
	preview := scope.NewChild(
		provider.WithLabel("preview"),
		provider.WithOverrides(provider.OverrideState(dash.units, "ft")),
	)

	alerts := provider.UseNotifier(scope, dash.alerts)
	ctx := context.Background()

	for tick := 0; tick < 12; tick++ {
		time.Sleep(150 * time.Millisecond)

		cfg := provider.Read(scope, dash.config)
		if len(cfg.Stations) > 0 {
			station := cfg.Stations[tick%len(cfg.Stations)]
			scope.Invalidate(dash.readings.For(station))
			level, err := provider.Await(ctx, scope, dash.readings.For(station))
			if err == nil && level > cfg.AlertLevel {
				alerts.Record()
			}
		}

		switch tick {
		case 5:
			fmt.Println("-- switching display units to feet --")
			provider.Set(scope, dash.units, "ft")
		case 8:
			fmt.Println("-- rewriting showcase.yaml: bend dropped, threshold lowered --")
			if err := os.WriteFile(cfgPath, []byte(reloadedConfig), 0o644); err != nil {
				return err
			}
		}
	}

	fmt.Println("preview scope (feet):", provider.Read(preview, dash.summary))
	fmt.Printf("threshold crossings recorded: %d\n", alerts.State())

	snap := inspect.Capture(scope)
	if err := snap.WriteFile("provider-graph.yaml"); err != nil {
		return err
	}
	f, err := os.Create("provider-graph.dot")
	if err != nil {
		return err
	}
	if err := snap.WriteDOT(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Println(`wrote provider-graph.yaml and provider-graph.dot (render with "current graph")`)
	return nil
}
