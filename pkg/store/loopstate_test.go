package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsyvoice/autotune/pkg/database"
	"github.com/tarsyvoice/autotune/pkg/models"
	"github.com/tarsyvoice/autotune/pkg/store"
)

func newTestRepo(t *testing.T) *store.LoopStateRepo {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("autotune_test"),
		postgres.WithUsername("autotune"),
		postgres.WithPassword("autotune"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := database.NewConfig(host, port.Int(), "autotune", "autotune", "autotune_test", "disable")
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return store.NewLoopStateRepo(client.DB())
}

func TestLoopStateRepo_GetBeforeFirstTick(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background())
	assert.ErrorIs(t, err, store.ErrNoLoopState)
}

func TestLoopStateRepo_UpsertThenGet_RoundTrips(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	want := models.LoopState{
		LastTraceCursor:   now,
		PendingTraceCount: 12,
		CurrentPhase:      models.PhaseSnapshotBuilt,
		CurrentRunDir:     "runs/20260730T090000Z",
		UpdatedAt:         now,
	}
	require.NoError(t, repo.Upsert(ctx, want))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.PendingTraceCount, got.PendingTraceCount)
	assert.Equal(t, want.CurrentPhase, got.CurrentPhase)
	assert.Equal(t, want.CurrentRunDir, got.CurrentRunDir)
}

func TestLoopStateRepo_UpsertTwice_ResumesFromLatestPhase(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, models.LoopState{
		CurrentPhase: models.PhaseStrategiesGenerated,
		UpdatedAt:    now,
	}))
	require.NoError(t, repo.Upsert(ctx, models.LoopState{
		CurrentPhase: models.PhaseEvalTest,
		UpdatedAt:    now.Add(time.Second),
	}))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseEvalTest, got.CurrentPhase)
}
