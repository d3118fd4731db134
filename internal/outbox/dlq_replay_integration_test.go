//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/kaif394/Gymble0/internal/consumer"
	"github.com/kaif394/Gymble0/internal/events"
	"github.com/kaif394/Gymble0/internal/persistence/postgres"
)

func TestDLQReplayReachesAuditLog(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := postgres.NewRepository(pool)
	member := newMember(t, ctx, repo, uuid.NewString())
	gymID := member.GymID
	opened := scan(t, ctx, repo, member, visitStart)

	registry := &stubRegistry{id: 100}

	// 1. Initial dispatch fails and moves the message to the DLQ.
	failing := &stubProducer{err: errors.New("upstream kafka unavailable")}
	dispatcher := NewDispatcher(pool, failing, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount, "expected message routed to DLQ on failure")

	// 2. Requeue the DLQ entry.
	manager := NewDLQManager(pool, 5, time.Second)
	beforeRequeued := testutil.ToFloat64(dlqRequeued.WithLabelValues(events.TypeCheckedIn, gymID))
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(dlqRequeued.WithLabelValues(events.TypeCheckedIn, gymID)), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklog.WithLabelValues(events.TypeCheckedIn)))

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 0, dlqCount, "expected DLQ cleared after requeue")

	// 3. Deliver through a real broker into the audit consumer.
	kContainer, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kContainer.Terminate(context.Background()) })

	brokers, err := kContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             "attendance_events",
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "attendance-audit-replay",
		Topic:       "attendance_events",
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.NewProcessor(reader, consumer.NewPersistenceHandler(pool)).Run(consumerCtx)
	}()

	producer := NewKafkaProducer(brokers)
	defer producer.Close()
	dispatcher = NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	require.Eventually(t, func() bool {
		var logged int
		err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance_event_log WHERE gym_id = $1 AND event_type = $2`, gymID, events.TypeCheckedIn).Scan(&logged)
		return err == nil && logged == 1
	}, 60*time.Second, time.Second, "expected replayed event in the audit log")

	var (
		schemaID     int
		attendanceID string
		memberID     string
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT schema_id, attendance_id, member_id FROM attendance_event_log WHERE gym_id = $1`, gymID,
	).Scan(&schemaID, &attendanceID, &memberID))
	require.Equal(t, 100, schemaID)
	require.Equal(t, opened.Record.ID, attendanceID)
	require.Equal(t, member.ID, memberID)
}
