// Package postgres stores members, attendance records and outbox events in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kaif394/Gymble0/internal/domain"
	"github.com/kaif394/Gymble0/internal/events"
)

const uniqueViolation = "23505"

// DB is the part of pgxpool.Pool the repository needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repository provides Postgres-backed persistence for attendance and outbox events.
type Repository struct {
	db DB
}

// NewRepository constructs a Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `attendance_id, gym_id, member_id, member_name, check_in_time, check_out_time, duration_minutes, qr_code_data, COALESCE(device_info, ''), COALESCE(ip_address, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	err := row.Scan(&rec.ID, &rec.GymID, &rec.MemberID, &rec.MemberName, &rec.CheckInTime, &rec.CheckOutTime, &rec.DurationMinutes, &rec.Token, &rec.Client.DeviceInfo, &rec.Client.IPAddress)
	return rec, err
}

// withGym runs fn in a transaction scoped to gymID through row-level security.
func (r *Repository) withGym(ctx context.Context, gymID string, fn func(pgx.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.gym_id', $1, true)", gymID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveMember inserts or updates a member profile.
func (r *Repository) SaveMember(ctx context.Context, member domain.Member) error {
	return r.withGym(ctx, member.GymID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO members (member_id, gym_id, user_id, name, membership_status, last_visit, total_visits)
             VALUES ($1,$2,$3,$4,$5,$6,$7)
             ON CONFLICT (member_id) DO UPDATE
                SET name = EXCLUDED.name,
                    membership_status = EXCLUDED.membership_status,
                    updated_at = NOW()`,
			member.ID, member.GymID, member.UserID, member.Name, string(member.MembershipStatus), member.LastVisit, member.TotalVisits,
		)
		return err
	})
}

// FindMember implements domain.AttendanceRepository.
func (r *Repository) FindMember(ctx context.Context, gymID, userID string) (*domain.Member, error) {
	var member *domain.Member
	err := r.withGym(ctx, gymID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT member_id, gym_id, user_id, name, membership_status, last_visit, total_visits
               FROM members WHERE gym_id=$1 AND user_id=$2`, gymID, userID)
		var m domain.Member
		var status string
		if err := row.Scan(&m.ID, &m.GymID, &m.UserID, &m.Name, &status, &m.LastVisit, &m.TotalVisits); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		m.MembershipStatus = domain.MembershipStatus(status)
		member = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// ApplySession implements domain.SessionStore. The key is serialized with a
// transaction-scoped advisory lock; the partial unique index on open sessions
// catches writers that bypass the lock.
func (r *Repository) ApplySession(ctx context.Context, key domain.SessionKey, mutate domain.SessionMutator) (domain.SessionChange, error) {
	var change domain.SessionChange
	err := r.withGym(ctx, key.GymID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key.String()); err != nil {
			return err
		}

		open, err := r.openSession(ctx, tx, key)
		if err != nil {
			return err
		}

		change, err = mutate(open)
		if err != nil {
			return err
		}

		switch change.Transition {
		case domain.TransitionCheckIn:
			return r.insertCheckIn(ctx, tx, key, change.Record)
		case domain.TransitionCheckOut:
			return r.closeSession(ctx, tx, key, change.Record)
		default:
			return fmt.Errorf("unknown transition %q", change.Transition)
		}
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.SessionChange{}, fmt.Errorf("%w: %s", domain.ErrConcurrentSession, pgErr.ConstraintName)
		}
		return domain.SessionChange{}, err
	}
	return change, nil
}

func (r *Repository) openSession(ctx context.Context, tx pgx.Tx, key domain.SessionKey) (*domain.AttendanceRecord, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+recordColumns+`
           FROM attendance
          WHERE gym_id=$1 AND member_id=$2 AND session_day=$3::date AND check_out_time IS NULL
          FOR UPDATE`,
		key.GymID, key.MemberID, key.Day.Key())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) insertCheckIn(ctx context.Context, tx pgx.Tx, key domain.SessionKey, rec domain.AttendanceRecord) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO attendance (attendance_id, gym_id, member_id, member_name, session_day, check_in_time, qr_code_data, device_info, ip_address)
         VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9)`,
		rec.ID, rec.GymID, rec.MemberID, rec.MemberName, key.Day.Key(), rec.CheckInTime, rec.Token,
		nullIfEmpty(rec.Client.DeviceInfo), nullIfEmpty(rec.Client.IPAddress),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE members SET total_visits = total_visits + 1, last_visit = $3, updated_at = NOW()
          WHERE gym_id=$1 AND member_id=$2`,
		rec.GymID, rec.MemberID, rec.CheckInTime,
	); err != nil {
		return err
	}

	return insertOutbox(ctx, tx, rec, events.TypeCheckedIn, events.AttendanceCheckedIn{
		AttendanceID: rec.ID,
		GymID:        rec.GymID,
		MemberID:     rec.MemberID,
		MemberName:   rec.MemberName,
		CheckInTime:  rec.CheckInTime,
		SessionDay:   key.Day.Key(),
		DeviceInfo:   rec.Client.DeviceInfo,
		IPAddress:    rec.Client.IPAddress,
	})
}

func (r *Repository) closeSession(ctx context.Context, tx pgx.Tx, key domain.SessionKey, rec domain.AttendanceRecord) error {
	if rec.CheckOutTime == nil || rec.DurationMinutes == nil {
		return fmt.Errorf("check-out of %s without end time", rec.ID)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE attendance SET check_out_time = $3, duration_minutes = $4, updated_at = NOW()
          WHERE gym_id=$1 AND attendance_id=$2 AND check_out_time IS NULL`,
		rec.GymID, rec.ID, *rec.CheckOutTime, *rec.DurationMinutes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentSession
	}

	return insertOutbox(ctx, tx, rec, events.TypeCheckedOut, events.AttendanceCheckedOut{
		AttendanceID:    rec.ID,
		GymID:           rec.GymID,
		MemberID:        rec.MemberID,
		CheckInTime:     rec.CheckInTime,
		CheckOutTime:    *rec.CheckOutTime,
		DurationMinutes: *rec.DurationMinutes,
		SessionDay:      key.Day.Key(),
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.AttendanceRecord, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (gym_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		rec.GymID,
		"attendance",
		rec.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		fmt.Sprintf("%s:%s", rec.GymID, rec.MemberID),
		body,
		fmt.Sprintf("%s:%s", rec.ID, eventType),
	)
	return err
}

// LatestSession implements domain.AttendanceRepository.
func (r *Repository) LatestSession(ctx context.Context, key domain.SessionKey) (*domain.AttendanceRecord, error) {
	var latest *domain.AttendanceRecord
	err := r.withGym(ctx, key.GymID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+recordColumns+`
               FROM attendance
              WHERE gym_id=$1 AND member_id=$2 AND session_day=$3::date
              ORDER BY check_in_time DESC, attendance_id DESC
              LIMIT 1`,
			key.GymID, key.MemberID, key.Day.Key())
		rec, err := scanRecord(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		latest = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// ListByGym implements domain.AttendanceRepository.
func (r *Repository) ListByGym(ctx context.Context, gymID string, from, to time.Time) ([]domain.AttendanceRecord, error) {
	results := make([]domain.AttendanceRecord, 0)
	err := r.withGym(ctx, gymID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+recordColumns+`
               FROM attendance
              WHERE gym_id=$1 AND check_in_time >= $2 AND check_in_time < $3
              ORDER BY check_in_time DESC, attendance_id DESC`,
			gymID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListByMember returns a member's records ordered by check-in time, newest first.
func (r *Repository) ListByMember(ctx context.Context, gymID, memberID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	args := []any{gymID, memberID, limit}
	query := `SELECT ` + recordColumns + `
        FROM attendance WHERE gym_id=$1 AND member_id=$2`

	if cursor != nil {
		query += ` AND (check_in_time, attendance_id) < ($4, $5)`
		args = append(args, cursor.CheckInTime, cursor.ID)
	}

	query += ` ORDER BY check_in_time DESC, attendance_id DESC LIMIT $3`

	results := make([]domain.AttendanceRecord, 0, limit)
	err := r.withGym(ctx, gymID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CheckInTime: last.CheckInTime, ID: last.ID}
	}
	return results, nextCursor, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

// Check-in and check-out share a topic; the partition key is gym:member.
var eventCatalog = map[string]EventMetadata{
	events.TypeCheckedIn: {
		Topic:         "attendance_events",
		SchemaSubject: "attendance_events-AttendanceCheckedIn",
	},
	events.TypeCheckedOut: {
		Topic:         "attendance_events",
		SchemaSubject: "attendance_events-AttendanceCheckedOut",
	},
}
