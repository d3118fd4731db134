package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/kaif394/Gymble0/internal/events"
)

type countingRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls int
}

func (r *countingRegistry) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.id, r.err
}

func TestEncodeAddsRoutingHeadersAndFraming(t *testing.T) {
	registry := &countingRegistry{id: 17}
	d := &Dispatcher{registry: registry}

	payload, err := json.Marshal(events.AttendanceCheckedIn{AttendanceID: "rec-1", GymID: "G1", MemberID: "m-1"})
	require.NoError(t, err)
	msg := Message{
		GymID:         "G1",
		EventType:     events.TypeCheckedIn,
		Topic:         "attendance_events",
		SchemaSubject: "attendance_events-AttendanceCheckedIn",
		PartitionKey:  "G1:m-1",
		Payload:       payload,
	}

	record, err := d.encode(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, []byte("G1:m-1"), record.Key)
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(17), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, string(payload), string(record.Value[5:]))

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		"event_type":     events.TypeCheckedIn,
		"gym_id":         "G1",
		"schema_subject": "attendance_events-AttendanceCheckedIn",
	}, headers)

	_, err = d.encode(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, 1, registry.calls)
}

func TestEncodeRejectsUnknownEventType(t *testing.T) {
	registry := &countingRegistry{id: 1}
	d := &Dispatcher{registry: registry}

	_, err := d.encode(context.Background(), Message{EventType: "attendance.unknown"})
	require.ErrorContains(t, err, "no schema metadata for event_type=attendance.unknown")
	require.Zero(t, registry.calls)
}

func TestEncodeSurfacesRegistryErrors(t *testing.T) {
	d := &Dispatcher{registry: &countingRegistry{err: errors.New("registry down")}}

	_, err := d.encode(context.Background(), Message{EventType: events.TypeCheckedOut, SchemaSubject: "s"})
	require.ErrorContains(t, err, "registry down")
}

type recordingWriter struct {
	err     error
	written []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, _ string, msgs ...kafka.Message) error {
	w.written = append(w.written, msgs...)
	return w.err
}

func TestDeliverHoldsBackLaterEventsOfAFailedMember(t *testing.T) {
	writer := &recordingWriter{}
	d := &Dispatcher{registry: &countingRegistry{id: 3}, producer: writer, logger: log.New(io.Discard, "", 0)}

	messages := []Message{
		{EventID: 1, GymID: "G1", EventType: "attendance.unknown", Topic: "attendance_events", PartitionKey: "G1:a"},
		{EventID: 2, GymID: "G1", EventType: events.TypeCheckedOut, Topic: "attendance_events", SchemaSubject: "s-out", PartitionKey: "G1:a", Payload: []byte(`{}`)},
		{EventID: 3, GymID: "G1", EventType: events.TypeCheckedIn, Topic: "attendance_events", SchemaSubject: "s-in", PartitionKey: "G1:b", Payload: []byte(`{}`)},
	}

	failures := d.deliver(context.Background(), messages)
	require.Len(t, failures, 2)
	require.Contains(t, failures[1], "no schema metadata")
	require.Contains(t, failures[2], "held behind earlier failure")
	require.Len(t, writer.written, 1)
	require.Equal(t, []byte("G1:b"), writer.written[0].Key)
}

func TestDeliverFailsOnlyRejectedRecordsOfAPartialWrite(t *testing.T) {
	writer := &recordingWriter{err: kafka.WriteErrors{nil, errors.New("leader not available")}}
	d := &Dispatcher{registry: &countingRegistry{id: 3}, producer: writer, logger: log.New(io.Discard, "", 0)}

	messages := []Message{
		{EventID: 10, GymID: "G1", EventType: events.TypeCheckedIn, Topic: "attendance_events", SchemaSubject: "s-in", PartitionKey: "G1:a", Payload: []byte(`{}`)},
		{EventID: 11, GymID: "G2", EventType: events.TypeCheckedIn, Topic: "attendance_events", SchemaSubject: "s-in", PartitionKey: "G2:b", Payload: []byte(`{}`)},
	}

	failures := d.deliver(context.Background(), messages)
	require.Equal(t, map[int64]string{11: "leader not available (topic=attendance_events)"}, failures)
}

func TestDeliverFailsWholeTopicOnWriterError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker unreachable")}
	d := &Dispatcher{registry: &countingRegistry{id: 3}, producer: writer, logger: log.New(io.Discard, "", 0)}

	messages := []Message{
		{EventID: 20, GymID: "G1", EventType: events.TypeCheckedIn, Topic: "attendance_events", SchemaSubject: "s-in", PartitionKey: "G1:a", Payload: []byte(`{}`)},
		{EventID: 21, GymID: "G1", EventType: events.TypeCheckedOut, Topic: "attendance_events", SchemaSubject: "s-out", PartitionKey: "G1:a", Payload: []byte(`{}`)},
	}

	failures := d.deliver(context.Background(), messages)
	require.Len(t, failures, 2)
	for _, reason := range failures {
		require.Equal(t, "broker unreachable (topic=attendance_events)", reason)
	}
}

func TestRecordDeliveredObservesPublishLag(t *testing.T) {
	created := time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC)
	msg := Message{GymID: "G-lag", EventType: events.TypeCheckedOut, CreatedAt: created}

	before := testutil.ToFloat64(eventsDelivered.WithLabelValues(events.TypeCheckedOut, "G-lag"))
	recordDelivered(msg, created.Add(1500*time.Millisecond))
	require.Equal(t, before+1, testutil.ToFloat64(eventsDelivered.WithLabelValues(events.TypeCheckedOut, "G-lag")))

	metric := &dto.Metric{}
	require.NoError(t, publishLag.WithLabelValues(events.TypeCheckedOut).(prometheus.Metric).Write(metric))
	require.NotZero(t, metric.GetHistogram().GetSampleCount())
}

func TestBackoffDelayDoublesUpToAnHour(t *testing.T) {
	m := NewDLQManager(nil, 0, 0)
	require.Equal(t, 5, m.maxRetries)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
	require.Equal(t, time.Hour, m.backoffDelay(80))
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/attendance_events-AttendanceCheckedIn/versions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			_, _ = w.Write([]byte(`{"id": 31}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL)
	id, err := client.EnsureSchema(context.Background(), "attendance_events-AttendanceCheckedIn", checkedInSchema)
	require.NoError(t, err)
	require.Equal(t, 31, id)
	require.Equal(t, "JSON", registered["schemaType"])
}

func TestSchemaRegistryReusesLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id": 8, "version": 2}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "attendance_events-AttendanceCheckedOut", checkedOutSchema)
	require.NoError(t, err)
	require.Equal(t, 8, id)
}

func TestSchemaRegistryDoesNotRegisterOnOutage(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "attendance_events-AttendanceCheckedIn", checkedInSchema)
	require.ErrorContains(t, err, "status 503")
	require.Zero(t, posts.Load())
}
