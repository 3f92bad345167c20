package runner

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for check outcomes.
const (
	outcomePassed = "passed"
	outcomeFailed = "failed"
)

var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossrun_checks_total",
			Help: "Total number of checks run, by suite and outcome.",
		},
		[]string{"suite", "outcome"},
	)

	checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossrun_check_duration_seconds",
			Help:    "Duration of passing checks, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"suite"},
	)
)

func init() {
	prometheus.MustRegister(checksTotal)
	prometheus.MustRegister(checkDuration)

	for _, suite := range []Suite{SuiteStyle, SuiteFunctionality, SuiteHost} {
		checksTotal.WithLabelValues(string(suite), outcomePassed)
		checksTotal.WithLabelValues(string(suite), outcomeFailed)
	}
}

func observeCheck(suite, outcome string) {
	checksTotal.WithLabelValues(suite, outcome).Inc()
}
