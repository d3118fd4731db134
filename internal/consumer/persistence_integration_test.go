//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kaif394/Gymble0/internal/events"
)

func TestPersistenceHandlerStoresEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewPersistenceHandler(pool)

	out := events.AttendanceCheckedOut{
		AttendanceID:    "abc",
		GymID:           "gym-123",
		MemberID:        "m-1",
		CheckInTime:     time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC),
		CheckOutTime:    time.Date(2025, time.October, 27, 10, 15, 0, 0, time.UTC),
		DurationMinutes: 75,
		SessionDay:      "2025-10-27",
	}
	payload, err := json.Marshal(out)
	require.NoError(t, err)
	evt := Event{
		Type:          events.TypeCheckedOut,
		AttendanceID:  out.AttendanceID,
		GymID:         out.GymID,
		MemberID:      out.MemberID,
		SessionDay:    out.SessionDay,
		CheckedOut:    &out,
		Payload:       payload,
		SchemaID:      42,
		SchemaSubject: "attendance_events-AttendanceCheckedOut",
		Topic:         "attendance_events",
		Offset:        5,
		ReceivedAt:    time.Now().UTC(),
	}

	require.NoError(t, handler.Handle(ctx, evt))
	// Redelivery of the same offset is ignored.
	require.NoError(t, handler.Handle(ctx, evt))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance_event_log`).Scan(&count))
	require.Equal(t, 1, count)

	var (
		attendanceID string
		memberID     string
		day          time.Time
		occurredAt   time.Time
		duration     *int
		stored       []byte
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT attendance_id, member_id, session_day, occurred_at, duration_minutes, payload FROM attendance_event_log LIMIT 1`,
	).Scan(&attendanceID, &memberID, &day, &occurredAt, &duration, &stored))
	require.Equal(t, "abc", attendanceID)
	require.Equal(t, "m-1", memberID)
	require.Equal(t, "2025-10-27", day.Format("2006-01-02"))
	require.True(t, occurredAt.Equal(out.CheckOutTime))
	require.NotNil(t, duration)
	require.Equal(t, 75, *duration)
	require.JSONEq(t, string(payload), string(stored))
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("gymble"),
		postgrescontainer.WithUsername("gymble"),
		postgrescontainer.WithPassword("gymble"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsPath := resolvePath(t, "../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
