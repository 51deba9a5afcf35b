package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(sessionOutcomes, sessionDuration, pollIterations, activeSessions) }

var (
	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_session_outcomes_total",
			Help: "Sessions by terminal outcome.",
		},
		[]string{"outcome"},
	)

	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Time from SESSION_INITIATED to the terminal outcome.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"outcome"},
	)

	pollIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_poll_iterations_total",
			Help: "Journal polls performed by orchestrators.",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Sessions currently driven by this process.",
		},
	)
)

func ObserveOutcome(outcome string, elapsed time.Duration) {
	sessionOutcomes.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func IncPoll() {
	pollIterations.Inc()
}

func SessionStarted() {
	activeSessions.Inc()
}

func SessionFinished() {
	activeSessions.Dec()
}
