package admission

import "github.com/prometheus/client_golang/prometheus"

var rejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "urumi_admission_rejections_total",
		Help: "Total number of store creation requests rejected by admission policies.",
	},
	[]string{"policy"},
)

func init() {
	prometheus.MustRegister(rejectionsTotal)
}
