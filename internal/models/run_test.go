package models_test

import (
	"testing"
	"time"

	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	run := &models.Run{Owner: "alice"}
	assert.Equal(t, models.StatusNew, run.Status())

	queued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run.Queue(queued)
	assert.True(t, run.Queued())
	assert.Equal(t, models.StatusQueued, run.Status())

	started := queued.Add(time.Minute)
	require.NoError(t, run.Start(started))
	assert.False(t, run.Queued())
	assert.True(t, run.Running())
	assert.Equal(t, models.StatusRunning, run.Status())
	assert.Nil(t, run.WallTime)
	assert.ErrorIs(t, run.Start(started), models.ErrAlreadyStarted)

	finished := started.Add(90 * time.Second)
	require.NoError(t, run.Finish(finished, models.StatusCodeSuccess))
	assert.True(t, run.Finished())
	assert.False(t, run.Running())
	assert.Equal(t, models.StatusFinishedSuccess, run.Status())
	require.NotNil(t, run.WallTime)
	assert.InDelta(t, 90.0, *run.WallTime, 1e-9)

	d, ok := run.Duration()
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	assert.ErrorIs(t, run.Finish(finished, models.StatusCodeStopped), models.ErrAlreadyFinished)
	assert.ErrorIs(t, run.Start(finished), models.ErrAlreadyStarted)
}

func TestRunFinishRequiresStart(t *testing.T) {
	run := &models.Run{}
	assert.ErrorIs(t, run.Finish(time.Now(), 0), models.ErrNotStarted)
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.WallTime)
}

func TestRunStatusFromCode(t *testing.T) {
	tests := []struct {
		code int
		want models.RunStatus
	}{
		{code: models.StatusCodeSuccess, want: models.StatusFinishedSuccess},
		{code: models.StatusCodeStopped, want: models.StatusStopped},
		{code: models.StatusCodeSetupFailure, want: models.StatusFinishedError},
		{code: 1, want: models.StatusFinishedError},
	}

	for _, tt := range tests {
		run := &models.Run{}
		now := time.Now()
		require.NoError(t, run.Start(now))
		require.NoError(t, run.Finish(now.Add(time.Second), tt.code))
		assert.Equal(t, tt.want, run.Status(), "code %d", tt.code)
	}
}

func TestRunWallTimeCannotBeSetDirectly(t *testing.T) {
	db := testutil.OpenTestDB(t)

	bogus := 42.0

	unstarted := &models.Run{Owner: "alice", WallTime: &bogus}
	assert.ErrorIs(t, db.Create(unstarted).Error, models.ErrWallTimeDerived)

	run := &models.Run{Owner: "alice"}
	require.NoError(t, db.Create(run).Error)
	now := time.Now().UTC()
	require.NoError(t, run.Start(now))
	require.NoError(t, run.Finish(now.Add(3*time.Second), 0))
	require.NoError(t, db.Save(run).Error)

	run.WallTime = &bogus
	assert.ErrorIs(t, db.Save(run).Error, models.ErrWallTimeDerived)

	var stored models.Run
	require.NoError(t, db.First(&stored, "id = ?", run.ID).Error)
	require.NotNil(t, stored.WallTime)
	assert.InDelta(t, 3.0, *stored.WallTime, 1e-3)
	assert.InDelta(t, stored.FinishedAt.Sub(*stored.StartedAt).Seconds(), *stored.WallTime, 1e-3)

	// a reloaded run can be saved again without tripping the check
	stored.IPAddress = "10.0.0.2"
	require.NoError(t, db.Save(&stored).Error)
}

func TestRunPaths(t *testing.T) {
	id := uuid.MustParse("0123abcd-0000-0000-0000-000000000000")

	run := &models.Run{ID: id, Owner: "alice"}
	assert.Equal(t, "run", run.Name())
	assert.Equal(t, "/data/alice/run", run.DataPath("/data"))
	assert.Equal(t, "/repos/alice/run", run.RepoPath("/repos"))
	assert.Equal(t, "alice_run_0123abcd", run.ContainerName())

	run.Scraper = &models.Scraper{Owner: "alice", Name: "council"}
	assert.Equal(t, "/data/alice/council", run.DataPath("/data"))
	assert.Equal(t, "alice_council_0123abcd", run.ContainerName())
}

func TestScraperEnv(t *testing.T) {
	s := &models.Scraper{Variables: map[string]interface{}{
		"MORPH_API_KEY": "secret",
		"MORPH_LIMIT":   10,
		"PATH":          "/evil",
	}}

	assert.Equal(t, map[string]string{
		"MORPH_API_KEY": "secret",
		"MORPH_LIMIT":   "10",
	}, s.Env())
}

func TestMetricCPUTime(t *testing.T) {
	m := &models.Metric{UTime: 1.25, STime: 0.5}
	assert.InDelta(t, 1.75, m.CPUTime(), 1e-9)
}
