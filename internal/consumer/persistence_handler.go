package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the part of pgxpool.Pool the handler needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PersistenceHandler appends consumed attendance events to attendance_event_log.
// Redelivered records (same topic, partition and offset) are ignored.
type PersistenceHandler struct {
	db Execer
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(db Execer) *PersistenceHandler {
	return &PersistenceHandler{db: db}
}

// Handle stores evt keyed by its attendance record and member.
func (h *PersistenceHandler) Handle(ctx context.Context, evt Event) error {
	var duration *int
	if evt.CheckedOut != nil {
		duration = &evt.CheckedOut.DurationMinutes
	}

	_, err := h.db.Exec(ctx,
		`INSERT INTO attendance_event_log (event_type, gym_id, attendance_id, member_id, session_day, occurred_at, duration_minutes,
                                           schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9,$10,$11,$12,$13,$14)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		evt.Type,
		evt.GymID,
		evt.AttendanceID,
		evt.MemberID,
		evt.SessionDay,
		evt.OccurredAt(),
		duration,
		evt.SchemaID,
		evt.SchemaSubject,
		evt.Topic,
		evt.Partition,
		evt.Offset,
		evt.Payload,
		evt.ReceivedAt,
	)
	return err
}
