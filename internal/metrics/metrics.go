package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morph_runs_total",
			Help: "Total number of finished runs by status.",
		},
		[]string{"status"},
	)

	RunWallTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "morph_run_wall_time_seconds",
			Help:    "Wall time of finished runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 86400},
		},
		[]string{"status"},
	)

	RunCPUSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "morph_run_cpu_seconds",
			Help:    "User plus system CPU time of runs that reported metrics.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "morph_runs_active",
			Help: "Number of currently running runs.",
		},
	)

	LogLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "morph_log_lines_total",
			Help: "Total number of log lines recorded by stream.",
		},
		[]string{"stream"},
	)

	StreamFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "morph_stream_failures_total",
			Help: "Total number of runs aborted by an output stream read failure.",
		},
	)
)

// Register registers all custom morph metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(Collectors()...)
}

// Collectors lists every custom morph metric.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RunsTotal,
		RunWallTimeSeconds,
		RunCPUSeconds,
		RunsActive,
		LogLinesTotal,
		StreamFailuresTotal,
	}
}
