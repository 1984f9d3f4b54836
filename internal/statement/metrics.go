package statement

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts statement outcomes.
type Metrics struct {
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the statement collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_statements_total",
		Help: "Statement deliveries partitioned by resulting state and skip reason.",
	}, []string{"status", "reason"})
	registerer.MustRegister(outcomes)
	return &Metrics{outcomes: outcomes}
}

func (m *Metrics) observe(status Status, reason SkipReason) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(status), string(reason)).Inc()
}
