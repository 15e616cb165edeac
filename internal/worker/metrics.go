package worker

import "github.com/prometheus/client_golang/prometheus"

// Outcomes returned by Process, also used as metric labels.
const (
	OutcomeReady   = "ready"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urumi_provision_jobs_total",
			Help: "Total number of provisioning jobs processed by outcome.",
		},
		[]string{"outcome"},
	)

	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urumi_provision_duration_seconds",
			Help:    "Time from dequeue to terminal status in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 600},
		},
		[]string{"type"},
	)

	busy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urumi_worker_busy",
			Help: "1 while the worker is processing a job.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(provisionDuration)
	prometheus.MustRegister(busy)

	for _, o := range []string{OutcomeReady, OutcomeFailed, OutcomeSkipped} {
		jobsTotal.WithLabelValues(o)
	}
}
