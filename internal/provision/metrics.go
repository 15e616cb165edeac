package provision

import "github.com/prometheus/client_golang/prometheus"

var (
	storesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urumi_stores_created_total",
			Help: "Total number of stores accepted for provisioning.",
		},
		[]string{"type"},
	)

	storesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "urumi_stores_deleted_total",
			Help: "Total number of stores torn down and removed.",
		},
	)

	teardownFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "urumi_teardown_failures_total",
			Help: "Total number of delete requests whose teardown failed.",
		},
	)

	jobsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "urumi_reconciler_requeued_total",
			Help: "Total number of jobs re-enqueued for stuck stores.",
		},
	)
)

func init() {
	prometheus.MustRegister(storesCreated)
	prometheus.MustRegister(storesDeleted)
	prometheus.MustRegister(teardownFailures)
	prometheus.MustRegister(jobsRequeued)
}
