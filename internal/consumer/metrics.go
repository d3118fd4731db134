package consumer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kaif394/Gymble0/internal/events"
)

var (
	eventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "consumer",
		Name:      "events_consumed_total",
		Help:      "Attendance events applied, by event type and gym.",
	}, []string{"event_type", "gym_id"})

	eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "consumer",
		Name:      "events_rejected_total",
		Help:      "Records committed without being applied, by rejection reason.",
	}, []string{"reason"})

	handlerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "consumer",
		Name:      "handler_retries_total",
		Help:      "Handler failures that caused an event to be retried.",
	}, []string{"event_type"})

	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "consumer",
		Name:      "session_duration_minutes",
		Help:      "Length of closed attendance sessions seen on check-out events.",
		Buckets:   []float64{5, 15, 30, 45, 60, 90, 120, 180, 240, 480},
	})

	lastEventTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "consumer",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix time of the most recent check-in or check-out applied.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsRejected, handlerRetries, sessionDuration, lastEventTimestamp)
}

func recordConsumed(evt Event) {
	eventsConsumed.WithLabelValues(evt.Type, evt.GymID).Inc()
	if evt.Type == events.TypeCheckedOut && evt.CheckedOut != nil {
		sessionDuration.Observe(float64(evt.CheckedOut.DurationMinutes))
	}
	if at := evt.OccurredAt(); !at.IsZero() {
		lastEventTimestamp.WithLabelValues(evt.Type).Set(float64(at.Unix()))
	}
}

func recordRejected(reason string) {
	eventsRejected.WithLabelValues(reason).Inc()
}

func recordRetry(eventType string) {
	handlerRetries.WithLabelValues(eventType).Inc()
}
