package tracker

import "github.com/prometheus/client_golang/prometheus"

var (
	pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dossier_tracker_polls_total",
		Help: "Status poll requests issued against the analysis engine.",
	})
	pollFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dossier_tracker_poll_failures_total",
		Help: "Status polls that failed at the transport or HTTP layer.",
	})
	fallbackHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dossier_tracker_fallback_hits_total",
		Help: "Jobs completed via the reports-existence fallback check.",
	})
	jobOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dossier_tracker_job_outcomes_total",
		Help: "Terminal tracker outcomes by phase.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(pollsTotal, pollFailuresTotal, fallbackHitsTotal, jobOutcomes)
}
