//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kaif394/Gymble0/internal/domain"
	"github.com/kaif394/Gymble0/internal/qrtoken"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("gymble"),
		postgrescontainer.WithUsername("gymble"),
		postgrescontainer.WithPassword("gymble"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRepositoryKeepsOneOpenSessionUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewRepository(pool)

	gymID := uuid.NewString()
	member := domain.Member{ID: uuid.NewString(), GymID: gymID, UserID: uuid.NewString(), Name: "Ada", MembershipStatus: domain.MembershipActive}
	require.NoError(t, repo.SaveMember(ctx, member))

	now := time.Now().UTC()
	schedule := qrtoken.DefaultSchedule()
	tok, err := qrtoken.NewGenerator(schedule, nil).Token(gymID, now)
	require.NoError(t, err)

	svc := domain.NewService(repo, qrtoken.NewGenerator(schedule, nil), qrtoken.NewValidator(schedule),
		domain.WithClock(func() time.Time { return now }),
		domain.WithConflictRetries(10),
	)
	actor := domain.Actor{UserID: member.UserID, GymID: gymID, Role: domain.RoleMember}

	const scans = 5
	var wg sync.WaitGroup
	errs := make(chan error, scans)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkAttendance(ctx, actor, domain.MarkAttendanceInput{Token: tok.String()})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	day := domain.NewDayBoundary(time.UTC).DayOf(now)
	records, err := repo.ListByGym(ctx, gymID, day.Start, day.End)
	require.NoError(t, err)
	require.Len(t, records, 3)
	open := 0
	for _, rec := range records {
		if rec.IsOpen() {
			open++
		}
	}
	require.Equal(t, 1, open)

	stored, err := repo.FindMember(ctx, gymID, member.UserID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.TotalVisits)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE aggregate_type = 'attendance'`).Scan(&outboxRows))
	require.Equal(t, scans, outboxRows)
}

func TestRepositoryRespectsGymIsolation(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewRepository(pool)

	member := domain.Member{ID: uuid.NewString(), GymID: uuid.NewString(), UserID: uuid.NewString(), Name: "Grace", MembershipStatus: domain.MembershipActive}
	require.NoError(t, repo.SaveMember(ctx, member))

	found, err := repo.FindMember(ctx, member.GymID, member.UserID)
	require.NoError(t, err)
	require.NotNil(t, found)

	other, err := repo.FindMember(ctx, uuid.NewString(), member.UserID)
	require.NoError(t, err)
	require.Nil(t, other)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_outbox_dlq_retry.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
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
