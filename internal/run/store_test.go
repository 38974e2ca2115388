package run

import (
	"context"
	"testing"
	"time"

	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.OpenTestDB(t))

	scraper, err := store.FindOrCreateScraper(ctx, "alice", "planning")
	require.NoError(t, err)

	run := &models.Run{Owner: "alice", ScraperID: &scraper.ID}
	require.NoError(t, store.Create(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)

	loaded, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Scraper)
	require.Equal(t, "planning", loaded.Scraper.Name)
	require.Equal(t, models.StatusNew, loaded.Status())

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFindOrCreateScraper(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	store := NewStore(db)

	first, err := store.FindOrCreateScraper(ctx, "alice", "planning")
	require.NoError(t, err)
	second, err := store.FindOrCreateScraper(ctx, "alice", "planning")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	testutil.AssertCount(t, db, &models.Scraper{}, 1)
}

func TestStoreUpdateIPAddress(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.OpenTestDB(t))

	run := &models.Run{Owner: "alice"}
	require.NoError(t, store.Create(ctx, run))
	require.NoError(t, store.UpdateIPAddress(ctx, run.ID, "10.0.0.7"))

	loaded, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.7", loaded.IPAddress)
}

func TestStoreFinishOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.OpenTestDB(t))

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := &models.Run{Owner: "alice"}
	require.NoError(t, run.Start(started))
	require.NoError(t, store.Create(ctx, run))

	require.ErrorIs(t, store.Finish(ctx, run), models.ErrNotStarted)

	stopped := *run
	require.NoError(t, stopped.Finish(started.Add(5*time.Second), models.StatusCodeStopped))
	require.NoError(t, store.Finish(ctx, &stopped))

	require.NoError(t, run.Finish(started.Add(9*time.Second), 0))
	require.ErrorIs(t, store.Finish(ctx, run), models.ErrAlreadyFinished)

	loaded, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, loaded.Status())
	require.InDelta(t, 5.0, *loaded.WallTime, 1e-3)

	finished, err := store.Finished(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, finished)
}

func TestStoreSaveRejectsWallTime(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.OpenTestDB(t))

	run := &models.Run{Owner: "alice"}
	require.NoError(t, store.Create(ctx, run))

	wall := 12.0
	run.WallTime = &wall
	require.ErrorIs(t, store.Save(ctx, run), models.ErrWallTimeDerived)
}

func TestStoreSaveMetricReplaces(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	store := NewStore(db)

	run := &models.Run{Owner: "alice"}
	require.NoError(t, store.Create(ctx, run))

	_, err := store.Metric(ctx, run.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveMetric(ctx, &models.Metric{RunID: run.ID, UTime: 1}))
	require.NoError(t, store.SaveMetric(ctx, &models.Metric{RunID: run.ID, UTime: 2}))

	m, err := store.Metric(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 2.0, m.UTime)
	testutil.AssertCount(t, db, &models.Metric{}, 1)
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.OpenTestDB(t))

	for _, owner := range []string{"alice", "bob", "alice"} {
		require.NoError(t, store.Create(ctx, &models.Run{Owner: owner}))
	}

	runs, err := store.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = store.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
