package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Attendance events published to Kafka, by event type and gym.",
	}, []string{"event_type", "gym_id"})

	eventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Attendance events moved to outbox_dlq instead of being published, by event type and gym.",
	}, []string{"event_type", "gym_id"})

	publishLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "publish_lag_seconds",
		Help:      "Delay between a check-in or check-out being recorded and its event reaching Kafka.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering and settling outbox batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "events_requeued_total",
		Help:      "Dead-lettered attendance events put back into the outbox.",
	}, []string{"event_type", "gym_id"})

	dlqRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "retries_scheduled_total",
		Help:      "Failed requeue attempts rescheduled with backoff.",
	}, []string{"event_type", "gym_id"})

	dlqQuarantined = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "events_quarantined_total",
		Help:      "Dead-lettered attendance events parked after exhausting retries.",
	}, []string{"event_type", "gym_id"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "pending_events",
		Help:      "Dead-lettered attendance events still awaiting a requeue, by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(
		eventsDelivered, eventsDeadLettered, publishLag, batchDuration,
		dlqRequeued, dlqRetries, dlqQuarantined, dlqBacklog,
	)
}

func recordDelivered(msg Message, at time.Time) {
	eventsDelivered.WithLabelValues(msg.EventType, msg.GymID).Inc()
	if !msg.CreatedAt.IsZero() && at.After(msg.CreatedAt) {
		publishLag.WithLabelValues(msg.EventType).Observe(at.Sub(msg.CreatedAt).Seconds())
	}
}

func recordDeadLettered(msg Message) {
	eventsDeadLettered.WithLabelValues(msg.EventType, msg.GymID).Inc()
}

func updateBacklog(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT event_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY event_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			eventType string
			count     int
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return
		}
		counts[eventType] = count
	}
	if rows.Err() != nil {
		return
	}

	dlqBacklog.Reset()
	for eventType, count := range counts {
		dlqBacklog.WithLabelValues(eventType).Set(float64(count))
	}
}
