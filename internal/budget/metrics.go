package budget

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports budget counters.
type Metrics struct {
	calls      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	remaining  *prometheus.GaugeVec
}

// NewMetrics registers the budget collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munivars",
			Subsystem: "budget",
			Name:      "calls_total",
			Help:      "External API calls by kind and backend.",
		},
		[]string{"kind", "backend"},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munivars",
			Subsystem: "budget",
			Name:      "rejections_total",
			Help:      "Calls rejected because a free-tier quota was spent.",
		},
		[]string{"kind"},
	)
	remaining := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "munivars",
			Subsystem: "budget",
			Name:      "remaining",
			Help:      "Calls left in the current free-tier quota.",
		},
		[]string{"kind"},
	)

	reg.MustRegister(calls, rejections, remaining)

	return &Metrics{calls: calls, rejections: rejections, remaining: remaining}
}

func (m *Metrics) observeCall(kind, backend string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(kind, backend).Inc()
}

func (m *Metrics) observeRejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) setRemaining(rem map[string]float64) {
	if m == nil {
		return
	}
	for kind, v := range rem {
		m.remaining.WithLabelValues(kind).Set(v)
	}
}
