package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(journalAppends, retryExhausted) }

var (
	journalAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_journal_appends_total",
			Help: "Journal append attempts by status and result (appended/duplicate/error).",
		},
		[]string{"status", "result"},
	)

	retryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_retry_exhausted_total",
			Help: "Operations that ran out of retry attempts.",
		},
		[]string{"op"},
	)
)

// IncAppend records one append attempt. Phase statuses are folded into
// "TASK_PHASE" to keep label cardinality bounded.
func IncAppend(status, result string) {
	journalAppends.WithLabelValues(statusLabel(status), result).Inc()
}

func IncRetryExhausted(op string) {
	retryExhausted.WithLabelValues(op).Inc()
}

func statusLabel(status string) string {
	if strings.HasPrefix(status, "TASK_") {
		return "TASK_PHASE"
	}
	return status
}
