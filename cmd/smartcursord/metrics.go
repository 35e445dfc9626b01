package main

import (
	"context"
	"errors"
	"time"

	"smartcursor/internal/imselect"
	"smartcursor/internal/metrics"
)

// meteredSwitcher times every call into the switch backend.
type meteredSwitcher struct {
	imselect.Switcher

	switches *metrics.Counter
	failures *metrics.Counter
	missing  *metrics.Counter
	latency  *metrics.Histogram
	queries  *metrics.Counter
}

func newMeteredSwitcher(s imselect.Switcher, reg *metrics.Registry) *meteredSwitcher {
	return &meteredSwitcher{
		Switcher: s,
		switches: reg.Counter("switch_commands_total", "Input method switch commands issued."),
		failures: reg.Counter("switch_failures_total", "Switch commands that returned an error."),
		missing:  reg.Counter("switch_binary_missing_total", "Switch commands skipped because the backend is missing or not running."),
		latency:  reg.Histogram("switch_duration_seconds", "Time taken by a switch command.", metrics.SwitchBuckets),
		queries:  reg.Counter("query_commands_total", "Input method queries issued."),
	}
}

func (m *meteredSwitcher) Switch(ctx context.Context, code string) error {
	start := time.Now()
	err := m.Switcher.Switch(ctx, code)
	if errors.Is(err, imselect.ErrNoCommand) {
		return err
	}
	m.switches.Inc()
	switch {
	case imselect.Unavailable(err):
		m.missing.Inc()
	case err != nil:
		m.failures.Inc()
	default:
		m.latency.ObserveDuration(time.Since(start))
	}
	return err
}

func (m *meteredSwitcher) Query(ctx context.Context) (string, error) {
	m.queries.Inc()
	return m.Switcher.Query(ctx)
}

// registerMetrics exposes counters the components keep themselves.
func (d *Daemon) registerMetrics(reg *metrics.Registry) {
	reg.CounterFunc("evaluations_total", "Verdicts computed by the mode controller.", func() uint64 {
		return d.ctrl.Snapshot().Evaluations
	})
	reg.CounterFunc("mode_changes_total", "Mode transitions applied by the mode controller.", func() uint64 {
		return d.ctrl.Snapshot().Switches
	})
	reg.CounterFunc("cache_hits_total", "Scanner cache hits.", func() uint64 {
		st, _ := d.rules.CacheStats()
		return st.Hits
	})
	reg.CounterFunc("cache_misses_total", "Scanner cache misses.", func() uint64 {
		st, _ := d.rules.CacheStats()
		return st.Misses
	})
	reg.GaugeFunc("cache_entries", "Entries held by the scanner cache.", func() float64 {
		st, _ := d.rules.CacheStats()
		return float64(st.Entries)
	})
	reg.GaugeFunc("uptime_seconds", "Seconds since the daemon started.", func() float64 {
		return time.Since(d.started).Seconds()
	})
	if d.server != nil {
		reg.GaugeFunc("ipc_clients", "Connected IPC clients.", func() float64 {
			return float64(d.server.ClientCount())
		})
	}
}
