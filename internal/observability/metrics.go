package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "transitions_total",
		Help:      "Attendance transitions applied, labeled by action (check_in, check_out).",
	}, []string{"action"})

	rejectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "rejections_total",
		Help:      "Attendance scans rejected without a state change, labeled by reason.",
	}, []string{"reason"})

	conflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "conflicts_total",
		Help:      "Concurrent transitions for the same member and day that lost the race.",
	})

	codesIssuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "codes",
		Name:      "issued_total",
		Help:      "Display codes issued, labeled by whether the rendered image came from cache.",
	}, []string{"cache"})

	displayStreamsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "codes",
		Name:      "display_streams",
		Help:      "Gym displays currently subscribed to code rotations.",
	})

	lastCheckInGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "persistence",
		Name:      "last_check_in_timestamp_seconds",
		Help:      "Unix timestamp of the most recent check-in persisted.",
	})
)

func init() {
	prometheus.MustRegister(transitionCounter, rejectionCounter, conflictCounter, codesIssuedCounter, displayStreamsGauge, lastCheckInGauge)
}

// RecordTransition counts an applied transition and advances the check-in watermark.
func RecordTransition(action string, at time.Time) {
	transitionCounter.WithLabelValues(action).Inc()
	if action == "check_in" && !at.IsZero() {
		lastCheckInGauge.Set(float64(at.Unix()))
	}
}

// RecordRejection counts a rejected scan.
func RecordRejection(reason string) {
	rejectionCounter.WithLabelValues(reason).Inc()
}

// RecordConflict counts a lost race on a member-day key.
func RecordConflict() {
	conflictCounter.Inc()
}

// RecordCodeIssued counts a display code.
func RecordCodeIssued(cacheHit bool) {
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	codesIssuedCounter.WithLabelValues(label).Inc()
}

// DisplayConnected tracks an opened display stream; call the returned func on close.
func DisplayConnected() func() {
	displayStreamsGauge.Inc()
	return displayStreamsGauge.Dec
}

// TransitionCount exposes the counter for tests.
func TransitionCount(action string) prometheus.Counter {
	return transitionCounter.WithLabelValues(action)
}

// RejectionCount exposes the counter for tests.
func RejectionCount(reason string) prometheus.Counter {
	return rejectionCounter.WithLabelValues(reason)
}
