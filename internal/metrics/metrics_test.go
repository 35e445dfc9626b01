package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("sc")
	c := r.Counter("events_total", "Events.")
	g := r.Gauge("open", "Open things.")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
			g.Inc()
		}()
	}
	wg.Wait()
	g.Dec()
	c.Add(10)

	assert.Equal(t, uint64(60), c.Value())
	assert.Equal(t, int64(49), g.Value())
	assert.Same(t, c, r.Counter("events_total", "ignored"), "registering twice returns the first metric")
}

func TestHistogram(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("latency_seconds", "Latency.", []float64{0.1, 0.01, 1})

	assert.Zero(t, h.Mean())
	assert.Zero(t, h.Quantile(0.5))

	h.Observe(0.005)
	h.Observe(0.01)
	h.Observe(0.5)
	h.ObserveDuration(2 * time.Second)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, (0.005+0.01+0.5+2)/4, h.Mean(), 1e-9)
	assert.InDelta(t, 0.01, h.Quantile(0.5), 1e-9)
	assert.Equal(t, 1.0, h.Quantile(1), "values above the last bucket report its bound")

	var b strings.Builder
	require.NoError(t, r.WritePrometheus(&b))
	out := b.String()
	assert.Contains(t, out, "# TYPE latency_seconds histogram\n")
	assert.Contains(t, out, "latency_seconds_bucket{le=\"0.01\"} 2\n", "bounds are inclusive")
	assert.Contains(t, out, "latency_seconds_bucket{le=\"0.1\"} 2\n")
	assert.Contains(t, out, "latency_seconds_bucket{le=\"1\"} 3\n")
	assert.Contains(t, out, "latency_seconds_bucket{le=\"+Inf\"} 4\n")
	assert.Contains(t, out, "latency_seconds_count 4\n")
}

func TestFuncMetrics(t *testing.T) {
	r := NewRegistry("sc")
	n := uint64(3)
	r.CounterFunc("reads_total", "Reads.", func() uint64 { return n })
	r.GaugeFunc("ratio", "Ratio.", func() float64 { return 0.25 })

	snap := r.Snapshot()
	assert.Equal(t, 3.0, snap["sc_reads_total"])
	assert.Equal(t, 0.25, snap["sc_ratio"])

	n = 7
	assert.Equal(t, 7.0, r.Snapshot()["sc_reads_total"], "read at scrape time")
}

func TestWritePrometheusIsSorted(t *testing.T) {
	r := NewRegistry("sc")
	r.Gauge("zeta", "Z.").Set(-2)
	r.Counter("alpha_total", "A.").Inc()
	r.Histogram("mid_seconds", "M.", nil).Observe(0.02)

	var b strings.Builder
	require.NoError(t, r.WritePrometheus(&b))
	out := b.String()

	a := strings.Index(out, "# HELP sc_alpha_total A.")
	m := strings.Index(out, "# HELP sc_mid_seconds M.")
	z := strings.Index(out, "# HELP sc_zeta Z.")
	require.True(t, a >= 0 && m >= 0 && z >= 0, out)
	assert.Less(t, a, m)
	assert.Less(t, m, z)
	assert.Contains(t, out, "sc_zeta -2\n")
	assert.Contains(t, out, "sc_alpha_total 1\n")

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap["sc_mid_seconds_count"])
	assert.Contains(t, snap, "sc_mid_seconds_p95")
}
