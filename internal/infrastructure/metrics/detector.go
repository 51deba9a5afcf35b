package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(detectorActions, retentionPurged) }

var (
	detectorActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_detector_actions_total",
			Help: "Detector decisions by action (FORCE_STOPPED/STOP_FAILED/STOP_NOT_REQUIRED/unknown_health/skipped).",
		},
		[]string{"action"},
	)

	retentionPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_retention_purged_total",
			Help: "Journal, metadata and data rows removed by retention.",
		},
	)
)

func IncDetectorAction(action string) {
	detectorActions.WithLabelValues(action).Inc()
}

func AddPurged(n int64) {
	retentionPurged.Add(float64(n))
}
