package daemonctl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// governorStarts tracks start attempts by variant and outcome
	governorStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemonctl_governor_starts_total",
			Help: "Total daemon start attempts by controller variant and result",
		},
		[]string{"variant", "result"},
	)

	// governorExits tracks classified daemon exits
	governorExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemonctl_governor_exits_total",
			Help: "Total daemon exits by controller variant and classification",
		},
		[]string{"variant", "class"},
	)

	// governorAutoRestarts tracks restarts triggered by the settings-changed sentinel
	governorAutoRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemonctl_governor_auto_restarts_total",
			Help: "Total automatic restarts after a settings-changed exit by controller variant",
		},
		[]string{"variant"},
	)

	// probeDuration tracks how long the daemon took to become ready
	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daemonctl_probe_duration_seconds",
			Help:    "Time until the readiness probe concluded, by result",
			Buckets: []float64{0.2, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)
)

// recordStart counts a start attempt
func recordStart(v Variant, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	governorStarts.WithLabelValues(v.String(), result).Inc()
}

// recordExit counts a classified exit
func recordExit(v Variant, class ExitClass) {
	governorExits.WithLabelValues(v.String(), class.String()).Inc()
}

// recordAutoRestart counts a sentinel-driven restart
func recordAutoRestart(v Variant) {
	governorAutoRestarts.WithLabelValues(v.String()).Inc()
}

// recordProbe observes a concluded readiness probe
func recordProbe(started time.Time, result string) {
	probeDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}
