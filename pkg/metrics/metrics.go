// Package metrics holds the Prometheus instrumentation for chargelog. All
// collectors are registered at init via promauto and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsLoggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargelog_sessions_logged_total",
			Help: "Total number of charging sessions forwarded to the tracker, by rate type and how it was resolved",
		},
		[]string{"rateType", "resolution"},
	)

	SessionLogFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargelog_session_log_failures_total",
			Help: "Total number of sessions the tracker rejected, by error kind",
		},
		[]string{"kind"},
	)

	TrackerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargelog_tracker_requests_total",
			Help: "Total number of tracker API calls, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargelog_refreshes_total",
			Help: "Total number of state refreshes per installation outcome",
		},
		[]string{"outcome"},
	)

	InstallationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chargelog_installations_active",
			Help: "Number of installations currently being coordinated",
		},
	)
)

// ObserveTrackerRequest records one tracker API call.
func ObserveTrackerRequest(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TrackerRequestsTotal.WithLabelValues(operation, outcome).Inc()
}
