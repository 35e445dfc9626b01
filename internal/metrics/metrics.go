// Package metrics keeps the daemon's counters and renders them in the
// Prometheus text format.
//
// Metrics are either owned (Counter, Gauge, Histogram) and updated by the
// code that observes the event, or read on demand from a component that
// already counts for itself (CounterFunc, GaugeFunc).
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc()        { g.value.Add(1) }
func (g *Gauge) Dec()        { g.value.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// SwitchBuckets suit an external process that usually answers in tens of
// milliseconds (seconds).
var SwitchBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last is +Inf; not cumulative
	sum    float64
	count  uint64
}

func newHistogram(buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = SwitchBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]uint64, len(sorted)+1)}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the mean of observed values, or 0 before any.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Quantile estimates the q-th quantile (0..1) by linear interpolation
// inside the bucket that holds it.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}

	target := uint64(math.Ceil(float64(h.count) * q))
	var seen uint64
	for i, n := range h.counts {
		if n == 0 || seen+n < target {
			seen += n
			continue
		}
		if i == len(h.buckets) {
			return h.buckets[len(h.buckets)-1]
		}
		lower := 0.0
		if i > 0 {
			lower = h.buckets[i-1]
		}
		upper := h.buckets[i]
		return lower + (upper-lower)*float64(target-seen)/float64(n)
	}
	return h.buckets[len(h.buckets)-1]
}

type entry struct {
	name string
	help string
	typ  MetricType

	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
	read      func() float64
}

// Registry holds the registered metrics under a common namespace.
type Registry struct {
	namespace string

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates a registry. Names are prefixed with "namespace_".
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, entries: make(map[string]*entry)}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// register returns the existing entry for name or stores e.
func (r *Registry) register(e *entry) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.name = r.fullName(e.name)
	if old, ok := r.entries[e.name]; ok {
		return old
	}
	r.entries[e.name] = e
	return e
}

// Counter registers a counter.
func (r *Registry) Counter(name, help string) *Counter {
	return r.register(&entry{name: name, help: help, typ: TypeCounter, counter: &Counter{}}).counter
}

// Gauge registers a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.register(&entry{name: name, help: help, typ: TypeGauge, gauge: &Gauge{}}).gauge
}

// Histogram registers a histogram. Nil buckets means SwitchBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	return r.register(&entry{name: name, help: help, typ: TypeHistogram, histogram: newHistogram(buckets)}).histogram
}

// CounterFunc registers a counter whose value is read from fn at scrape time.
func (r *Registry) CounterFunc(name, help string, fn func() uint64) {
	r.register(&entry{name: name, help: help, typ: TypeCounter, read: func() float64 { return float64(fn()) }})
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) {
	r.register(&entry{name: name, help: help, typ: TypeGauge, read: fn})
}

func (r *Registry) sorted() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (e *entry) value() float64 {
	switch {
	case e.read != nil:
		return e.read()
	case e.counter != nil:
		return float64(e.counter.Value())
	case e.gauge != nil:
		return float64(e.gauge.Value())
	}
	return 0
}

// WritePrometheus writes every metric in the Prometheus text format,
// ordered by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	var b strings.Builder
	for _, e := range r.sorted() {
		fmt.Fprintf(&b, "# HELP %s %s\n", e.name, e.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", e.name, e.typ)

		h := e.histogram
		if h == nil {
			fmt.Fprintf(&b, "%s %s\n", e.name, formatValue(e.value()))
			continue
		}

		h.mu.Lock()
		var cumulative uint64
		for i, le := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(&b, "%s_bucket{le=\"%s\"} %d\n", e.name, formatValue(le), cumulative)
		}
		cumulative += h.counts[len(h.buckets)]
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", e.name, cumulative)
		fmt.Fprintf(&b, "%s_sum %s\n", e.name, formatValue(h.sum))
		fmt.Fprintf(&b, "%s_count %d\n", e.name, h.count)
		h.mu.Unlock()
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Snapshot returns the current value of every metric. Histograms
// contribute _count, _mean and _p95 entries.
func (r *Registry) Snapshot() map[string]float64 {
	snap := make(map[string]float64)
	for _, e := range r.sorted() {
		if h := e.histogram; h != nil {
			snap[e.name+"_count"] = float64(h.Count())
			snap[e.name+"_mean"] = h.Mean()
			snap[e.name+"_p95"] = h.Quantile(0.95)
			continue
		}
		snap[e.name] = e.value()
	}
	return snap
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
