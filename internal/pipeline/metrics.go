package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/munivars/internal/model"
)

// Metrics exports run and step outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munivars",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by final status.",
		},
		[]string{"status"},
	)
	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munivars",
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Pipeline steps by step and outcome.",
		},
		[]string{"step", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "munivars",
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Wall time of each pipeline step.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 60, 180, 600},
		},
		[]string{"step"},
	)

	reg.MustRegister(runs, steps, duration)

	return &Metrics{runs: runs, steps: steps, duration: duration}
}

func (m *Metrics) observeStep(res model.StepResult) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(res.Step), string(res.Status)).Inc()
	m.duration.WithLabelValues(string(res.Step)).Observe(float64(res.DurationMS) / 1000)
}

func (m *Metrics) observeRun(status model.PipelineStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}
