package ledger

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records recompute outcomes and latency.
type Metrics struct {
	recomputes *prometheus.CounterVec
	duration   prometheus.Histogram
	cache      *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the ledger collectors. A nil registerer uses the Prometheus default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	recomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_recomputes_total",
		Help: "Ledger recomputations partitioned by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_ledger_recompute_duration_seconds",
		Help:    "Duration of committed ledger recomputations.",
		Buckets: prometheus.DefBuckets,
	})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_snapshot_reads_total",
		Help: "Snapshot reads partitioned by hit or miss.",
	}, []string{"result"})
	registerer.MustRegister(recomputes, duration, cache)
	return &Metrics{recomputes: recomputes, duration: duration, cache: cache}
}

func (m *Metrics) observeRecompute(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.duration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) observeRead(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
