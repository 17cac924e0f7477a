package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pipewatch/pipewatch/pkg/types"
)

// Metrics records run outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_pipeline_runs_total",
			Help: "Pipeline job runs by terminal status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipewatch_pipeline_run_duration_seconds",
			Help:    "Wall time of pipeline job runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipewatch_pipeline_rows_written",
			Help: "Rows written by the latest run of each job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.rows)
	return m
}

func (m *Metrics) observe(job string, status types.Status, rows int64, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, string(status)).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
	if status != types.StatusError {
		m.rows.WithLabelValues(job).Set(float64(rows))
	}
}
