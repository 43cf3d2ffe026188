package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-drift/current/pkg/provider"
)

// gaugeConfig is the dashboard configuration hot-reloaded from showcase.yaml.
type gaugeConfig struct {
	Stations   []string `yaml:"stations"`
	AlertLevel float64  `yaml:"alert_level"`
}

// alertLog counts threshold crossings. The notifier object persists for the
// life of its node, so every caller in a scope shares one counter.
type alertLog struct {
	provider.NotifierBase[int]
}

func (a *alertLog) Build(r *provider.Ref) int { return 0 }

// Record notes one threshold crossing.
func (a *alertLog) Record() { a.SetState(a.State() + 1) }

// dashboard holds the provider graph for the gauge display.
type dashboard struct {
	units    provider.StateProvider[string]
	config   provider.Provider[gaugeConfig]
	readings *provider.AsyncFamily[string, float64]
	summary  provider.Provider[string]
	alerts   provider.NotifierProvider[int, *alertLog]
}

// newDashboard declares the graph. file is the fswatch-backed contents of
// showcase.yaml; everything else derives from it.
func newDashboard(file provider.AsyncProvider[[]byte]) *dashboard {
	d := &dashboard{}

	d.units = provider.NewState("units", "m")

	d.config = provider.New("config", func(r *provider.Ref) gaugeConfig {
		raw, ok := provider.Watch(r, file).Data()
		if !ok {
			return gaugeConfig{}
		}
		var cfg gaugeConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return gaugeConfig{}
		}
		return cfg
	})

	// Readings auto-dispose: when a reload drops a station, the severed
	// gauge node is torn down at the end of that batch.
	d.readings = provider.NewAsyncFamily("reading",
		func(ctx context.Context, r *provider.Ref, station string) (float64, error) {
			select {
			case <-time.After(time.Duration(20+rand.IntN(80)) * time.Millisecond):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			return 1.0 + rand.Float64()*3.0, nil
		},
		provider.AutoDispose(),
	)

	d.summary = provider.New("summary", func(r *provider.Ref) string {
		cfg := provider.Watch(r, d.config)
		unit := provider.Watch(r, d.units)
		if len(cfg.Stations) == 0 {
			return "no stations configured"
		}
		var b strings.Builder
		for i, station := range cfg.Stations {
			if i > 0 {
				b.WriteString("   ")
			}
			b.WriteString(station)
			b.WriteString(" ")
			b.WriteString(formatReading(provider.Watch(r, d.readings.For(station)), unit, cfg.AlertLevel))
		}
		return b.String()
	})

	d.alerts = provider.NewNotifier[int]("alerts", func() *alertLog { return &alertLog{} })

	return d
}

// formatReading renders one gauge level in the selected unit, marking levels
// above the alert threshold. Reloading values keep showing the previous
// level so the display never blanks during a refresh.
func formatReading(v provider.AsyncValue[float64], unit string, alertLevel float64) string {
	if v.IsError() {
		return "unavailable"
	}
	level, ok := v.Data()
	if !ok {
		return "..."
	}
	mark := ""
	if level > alertLevel {
		mark = "(!)"
	}
	if unit == "ft" {
		return fmt.Sprintf("%.2fft%s", level*3.281, mark)
	}
	return fmt.Sprintf("%.2fm%s", level, mark)
}
