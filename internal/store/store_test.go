package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/windops/internal/store"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("windops_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func runningJob(kind models.AnalysisKind, startedAt time.Time) *models.Job {
	rid := "rid-" + uuid.NewString()
	return &models.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusRunning,
		RequestID: &rid,
		Params:    json.RawMessage(`{"num_sim":10}`),
		StartedAt: &startedAt,
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
	}
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindWake, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindWake, got.Kind)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, *job.RequestID, *got.RequestID)
	assert.JSONEq(t, `{"num_sim":10}`, string(got.Params))
	assert.Nil(t, got.Result)
	assert.Nil(t, got.CompletedAt)
}

func TestJob_CreateDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindAEP, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicateKey)
}

func TestJob_CreateDefaultsParams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindYaw, time.Now().UTC())
	job.Params = nil
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got.Params))
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_UpdateStatusRunningToCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindAEP, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	finished := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithResult(json.RawMessage(`{"aep_gwh":12.1}`), models.SourceCustom),
		store.WithFinishedAt(finished))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"aep_gwh":12.1}`, string(got.Result))
	require.NotNil(t, got.Source)
	assert.Equal(t, models.SourceCustom, *got.Source)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, finished.Equal(*got.CompletedAt))

	env, ok := got.Envelope()
	require.True(t, ok)
	assert.Equal(t, job.ID, env.JobID)
	assert.Equal(t, *job.RequestID, env.RequestID)
	assert.Equal(t, models.SourceCustom, env.Source)
}

func TestJob_UpdateStatusRunningToFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindGap, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("Gap Analysis failed: boom"))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Gap Analysis failed: boom", *got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	_, ok := got.Envelope()
	assert.False(t, ok)
}

func TestJob_UpdateStatusInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := runningJob(models.KindAEP, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("x")))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorContains(t, err, "invalid job status transition")
}

func TestJob_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusFailed)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobs_FiltersAndPaginates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		kind := models.KindAEP
		if i%2 == 1 {
			kind = models.KindWake
		}
		require.NoError(t, s.CreateJob(ctx, runningJob(kind, base.Add(time.Duration(i)*time.Minute))))
	}

	all, total, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)
	assert.True(t, all[0].CreatedAt.After(all[4].CreatedAt), "newest first")

	aep, total, err := s.ListJobs(ctx, store.JobFilter{Kind: models.KindAEP})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, j := range aep {
		assert.Equal(t, models.KindAEP, j.Kind)
	}

	page2, total, err := s.ListJobs(ctx, store.JobFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page2, 2)

	none, total, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFailRunningJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	done := runningJob(models.KindAEP, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.CreateJob(ctx, done))
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusCompleted,
		store.WithResult(json.RawMessage(`{}`), models.SourceDemo)))
	stuck := runningJob(models.KindWake, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, stuck))

	ids, err := s.FailRunningJobs(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.ID}, ids)

	got, err := s.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted", *got.ErrorMessage)

	got, err = s.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestLatestJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	_, err := s.LatestJob(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.LatestCompletedJob(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := runningJob(models.KindAEP, time.Now().UTC().Add(-2*time.Minute))
	require.NoError(t, s.CreateJob(ctx, first))
	require.NoError(t, s.UpdateJobStatus(ctx, first.ID, models.JobStatusCompleted,
		store.WithResult(json.RawMessage(`{"n":1}`), models.SourceDemo)))

	second := runningJob(models.KindYaw, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.CreateJob(ctx, second))
	require.NoError(t, s.UpdateJobStatus(ctx, second.ID, models.JobStatusFailed, store.WithErrorMessage("boom")))

	latest, err := s.LatestJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	completed, err := s.LatestCompletedJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, completed.ID)
	assert.JSONEq(t, `{"n":1}`, string(completed.Result))
}
