//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/store"
	"github.com/replicatedhq/chartsmith/pkg/testhelpers"
)

func setupStore(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	pg, err := testhelpers.CreatePostgresContainer(ctx, "testdata/001_schema.sql")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	require.NoError(t, store.InitPostgres(store.PostgresOpts{URI: pg.ConnectionString}))
}

func TestCreateRunAndAppendActivity(t *testing.T) {
	setupStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:     domain.NewID(),
		UserID: "user-1",
		Mode:   domain.ModeResearch,
		Goal:   "survey the market",
		Status: domain.StatusQueued,
	}
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.Goal, got.Goal)
	require.Equal(t, domain.StatusQueued, got.Status)

	a1, err := store.AppendActivity(ctx, run.ID, domain.ActivityRunInit, map[string]interface{}{"mode": "research"})
	require.NoError(t, err)
	require.Equal(t, int64(1), a1.Seq)

	a2, err := store.AppendActivity(ctx, run.ID, domain.ActivityRunProgress, map[string]interface{}{"completed": 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), a2.Seq)

	activities, err := store.ListActivitiesSince(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, activities, 2)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	setupStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:     domain.NewID(),
		UserID: "user-1",
		Mode:   domain.ModeReport,
		Goal:   "quarterly summary",
		Status: domain.StatusQueued,
	}
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	require.NoError(t, store.CreateRun(ctx, run))

	require.NoError(t, store.UpdateStatus(ctx, run.ID, domain.StatusRunning, "", ""))
	require.Error(t, store.UpdateStatus(ctx, run.ID, domain.StatusQueued, "", ""))
}

func TestSweepStaleRuns(t *testing.T) {
	setupStore(t)
	ctx := context.Background()

	run := &domain.Run{
		ID:     domain.NewID(),
		UserID: "user-1",
		Mode:   domain.ModeResearch,
		Goal:   "stale run",
		Status: domain.StatusQueued,
	}
	run.CreatedAt = time.Now().Add(-time.Hour)
	run.UpdatedAt = run.CreatedAt
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, store.UpdateStatus(ctx, run.ID, domain.StatusRunning, "", ""))

	// UpdateStatus stamps updated_at with the current time; age the row
	// past the sweep threshold.
	conn := store.MustGetPooledSession()
	_, err := conn.Exec(ctx, `UPDATE runs SET updated_at = $1 WHERE id = $2`, time.Now().Add(-time.Hour), run.ID)
	conn.Release()
	require.NoError(t, err)

	swept, err := store.SweepStaleRuns(ctx, time.Minute)
	require.NoError(t, err)
	require.Contains(t, swept, run.ID)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
}
