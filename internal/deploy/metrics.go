package deploy

import "github.com/prometheus/client_golang/prometheus"

// Operation label values.
const (
	opApply           = "apply"
	opUninstall       = "uninstall"
	opDeleteNamespace = "delete_namespace"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeTimeout = "timeout"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urumi_deploy_commands_total",
			Help: "Total number of deployment tool invocations.",
		},
		[]string{"operation", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urumi_deploy_command_duration_seconds",
			Help:    "Deployment tool invocation duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 600},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(commandsTotal)
	prometheus.MustRegister(commandDuration)

	// Pre-initialize label combinations so they appear in /metrics
	// before the first invocation.
	for _, op := range []string{opApply, opUninstall, opDeleteNamespace} {
		for _, outcome := range []string{outcomeSuccess, outcomeFailure, outcomeTimeout} {
			commandsTotal.WithLabelValues(op, outcome)
		}
	}
}
