//go:build integration

package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/kaif394/Gymble0/internal/events"
)

type collectingHandler struct {
	mu       sync.Mutex
	messages []Event
}

func (h *collectingHandler) Handle(_ context.Context, evt Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, evt)
	return nil
}

func (h *collectingHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.messages))
	copy(out, h.messages)
	return out
}

func TestKafkaAttendanceEventsReachHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]
	topic := "attendance_events"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "attendance-audit-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	handler := &collectingHandler{}
	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = NewProcessor(reader, handler).Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		BatchTimeout: 10 * time.Millisecond,
	}
	defer writer.Close()

	in := events.AttendanceCheckedIn{
		AttendanceID: "rec-int",
		GymID:        "gym-int",
		MemberID:     "member-int",
		MemberName:   "Ada",
		CheckInTime:  time.Now().UTC().Truncate(time.Second),
		SessionDay:   time.Now().UTC().Format("2006-01-02"),
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	framed := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(framed[1:5], 12)
	copy(framed[5:], payload)

	require.NoError(t, writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(in.GymID + ":" + in.MemberID),
		Value: framed,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeCheckedIn)},
			{Key: "gym_id", Value: []byte(in.GymID)},
			{Key: "schema_subject", Value: []byte("attendance_events-AttendanceCheckedIn")},
		},
	}))

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 60*time.Second, 500*time.Millisecond)

	got := handler.snapshot()[0]
	require.Equal(t, events.TypeCheckedIn, got.Type)
	require.Equal(t, "gym-int", got.GymID)
	require.Equal(t, "member-int", got.MemberID)
	require.Equal(t, 12, got.SchemaID)
	require.NotNil(t, got.CheckedIn)
	require.Equal(t, in, *got.CheckedIn)
	require.JSONEq(t, string(payload), string(got.Payload))
}
