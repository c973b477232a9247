// Package metrics provides Prometheus instrumentation for the matchmaking
// service: gauges for pool occupancy, counters for pairing outcomes, and
// histograms for how long users wait before being matched.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of users in the waiting pool.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_queue_size",
		Help: "Current number of users in the waiting pool",
	})

	// MatchesTotal counts successful pairings.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_matches_total",
		Help: "Total number of successful pairings",
	})

	// LockContentionTotal counts tryLock attempts that lost the race.
	LockContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_lock_contention_total",
		Help: "Total number of candidate lock attempts lost to a concurrent pairing",
	})

	// QuotaDeniedTotal counts findMatch requests rejected by the daily quota gate.
	QuotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_quota_denied_total",
		Help: "Total number of findMatch requests denied by the daily call quota",
	})

	// RoomProvisionFailures counts provisioning errors that fell back to the
	// placeholder room URL.
	RoomProvisionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_room_provision_failures_total",
		Help: "Total number of call-room provisioning failures",
	})

	// WaitDuration records the time from enqueue to successful pairing.
	WaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaker_wait_duration_seconds",
		Help:    "Time a matched user spent in the waiting pool",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	})

	// MatchScore records compatibility scores of successful pairings.
	MatchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaker_match_score",
		Help:    "Compatibility score (0-10) of successful pairings",
		Buckets: []float64{2, 4, 5, 6, 7, 8, 9, 10},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		MatchesTotal,
		LockContentionTotal,
		QuotaDeniedTotal,
		RoomProvisionFailures,
		WaitDuration,
		MatchScore,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
