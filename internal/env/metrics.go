package env

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for environment variants.
const (
	variantHost    = "host"
	variantDocker  = "docker"
	variantAndroid = "android"
)

var (
	activeEnvironments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossrun_active_environments",
			Help: "Number of currently cached execution environments.",
		},
	)

	environmentStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossrun_environment_starts_total",
			Help: "Total number of environments constructed, by variant.",
		},
		[]string{"variant"},
	)

	commandsSpawnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossrun_commands_spawned_total",
			Help: "Total number of commands spawned, by environment variant.",
		},
		[]string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(activeEnvironments)
	prometheus.MustRegister(environmentStartsTotal)
	prometheus.MustRegister(commandsSpawnedTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, v := range []string{variantHost, variantDocker, variantAndroid} {
		environmentStartsTotal.WithLabelValues(v)
		commandsSpawnedTotal.WithLabelValues(v)
	}
}
