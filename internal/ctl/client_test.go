package ctl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/standings/internal/adapters/http/api"
	"github.com/okian/standings/internal/adapters/repository"
	app "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/ctl"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
)

var key = model.NewKey("bl1", "2025")

func startServer(t *testing.T) (*app.Service, *httptest.Server) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, tm := range []model.Team{
		{ID: "fcb", Name: "FC Bayern München"},
		{ID: "bvb", Name: "Borussia Dortmund"},
		{ID: "s04", Name: "Schalke 04"},
	} {
		tm.LeagueID, tm.SeasonID = key.LeagueID, key.SeasonID
		require.NoError(t, store.SaveTeam(ctx, &tm))
	}

	svc := app.New(app.WithStore(store), app.WithWorkerCount(2), app.WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, svc.Start(ctx))
	srv := httptest.NewServer(api.NewServer(svc).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(ctx)
	})
	return svc, srv
}

func finished(home, away string, hs, as int) *model.Match {
	return &model.Match{
		LeagueID: key.LeagueID, SeasonID: key.SeasonID,
		HomeTeamID: home, AwayTeamID: away,
		ScheduledAt: time.Date(2025, 8, 23, 15, 30, 0, 0, time.UTC),
		Status:      model.StatusFinished,
		HomeScore:   model.Score(hs), AwayScore: model.Score(as),
	}
}

func TestClient(t *testing.T) {
	_, srv := startServer(t)
	ctx := context.Background()
	c := ctl.NewClient(srv.URL+"/", 5*time.Second)

	require.NoError(t, c.Health(ctx))

	res, err := c.SaveMatch(ctx, finished("fcb", "bvb", 3, 0), "k1")
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.False(t, res.Duplicate)

	dup, err := c.SaveMatch(ctx, finished("fcb", "bvb", 3, 0), "k1")
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, res.Match.ID, dup.Match.ID)

	require.NoError(t, c.WaitIdle(ctx, 5*time.Millisecond))
	rows, err := c.Table(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "fcb", rows[0].TeamID)

	jobs, err := c.History(ctx, key.LeagueID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, jobs)
	j, err := c.Job(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)

	t.Run("snapshots", func(t *testing.T) {
		snap, err := c.CreateSnapshot(ctx, key, "after md1", "ops")
		require.NoError(t, err)
		assert.Len(t, snap.Entries, 3)

		list, err := c.Snapshots(ctx, key)
		require.NoError(t, err)
		require.NotEmpty(t, list)
		assert.Equal(t, snap.ID, list[0].ID)

		_, err = c.RestoreSnapshot(ctx, snap.ID, false, "ops")
		var apiErr *ctl.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)

		rr, err := c.RestoreSnapshot(ctx, snap.ID, true, "ops")
		require.NoError(t, err)
		assert.NotEmpty(t, rr.PreRestoreSnapshotID)

		n, err := c.PruneSnapshots(ctx, 30)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, c.DeleteSnapshot(ctx, snap.ID))
		err = c.DeleteSnapshot(ctx, snap.ID)
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "not_found", apiErr.Code)
	})

	t.Run("queue control", func(t *testing.T) {
		st, err := c.Pause(ctx)
		require.NoError(t, err)
		assert.True(t, st.Paused)

		tr, err := c.Trigger(ctx, key, "urgent", "rebuild")
		require.NoError(t, err)
		assert.NotEmpty(t, tr.JobID)

		st, err = c.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Pending)

		st, err = c.Resume(ctx)
		require.NoError(t, err)
		assert.False(t, st.Paused)
		require.NoError(t, c.WaitIdle(ctx, 5*time.Millisecond))
	})

	t.Run("validation errors carry field details", func(t *testing.T) {
		m := finished("fcb", "fcb", 1, 0)
		_, err := c.SaveMatch(ctx, m, "")
		var apiErr *ctl.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "validation_error", apiErr.Code)
		assert.NotEmpty(t, apiErr.Errors)
	})
}

func TestRunLoad(t *testing.T) {
	_, srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := ctl.NewClient(srv.URL, 5*time.Second)
	stats, err := ctl.RunLoad(ctx, c, ctl.LoadConfig{Key: key, Matches: 40, Workers: 4, Poll: 5 * time.Millisecond}, nil)
	require.NoError(t, err, "%v", stats)
	assert.Equal(t, 40, stats.Generated)
	assert.EqualValues(t, 40, stats.Created)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 0, stats.PlayedBefore)
	assert.Equal(t, 80, stats.PlayedAfter)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := ctl.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsAgainstServer(t *testing.T) {
	svc, srv := startServer(t)
	ctx := context.Background()
	_, err := svc.SaveMatch(ctx, finished("bvb", "s04", 2, 2), app.SaveOptions{})
	require.NoError(t, err)
	c := ctl.NewClient(srv.URL, 5*time.Second)
	require.NoError(t, c.WaitIdle(ctx, 5*time.Millisecond))

	t.Run("table as text", func(t *testing.T) {
		out, err := execute(t, "--url", srv.URL, "table", "bl1/2025")
		require.NoError(t, err)
		assert.Contains(t, out, "Pts")
		assert.Contains(t, out, "Borussia Dortmund")
	})

	t.Run("table as json", func(t *testing.T) {
		out, err := execute(t, "--url", srv.URL, "--format", "json", "table", "bl1/2025")
		require.NoError(t, err)
		var rows []model.TableEntry
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		assert.Len(t, rows, 3)
	})

	t.Run("recalc and status", func(t *testing.T) {
		out, err := execute(t, "--url", srv.URL, "--format", "json", "recalc", "bl1/2025", "-p", "high", "-d", "check")
		require.NoError(t, err)
		var tr types.TriggerResult
		require.NoError(t, json.Unmarshal([]byte(out), &tr))
		assert.NotEmpty(t, tr.JobID)
		require.NoError(t, c.WaitIdle(ctx, 5*time.Millisecond))

		out, err = execute(t, "--url", srv.URL, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "queue running")

		out, err = execute(t, "--url", srv.URL, "history", "--league", "bl1", "-n", "5")
		require.NoError(t, err)
		assert.Contains(t, out, tr.JobID)
	})

	t.Run("snapshot lifecycle", func(t *testing.T) {
		out, err := execute(t, "--url", srv.URL, "--format", "json", "snapshots", "create", "bl1/2025", "-d", "cli")
		require.NoError(t, err)
		var snap model.Snapshot
		require.NoError(t, json.Unmarshal([]byte(out), &snap))

		out, err = execute(t, "--url", srv.URL, "snapshots", "list")
		require.NoError(t, err)
		assert.Contains(t, out, snap.ID)

		_, err = execute(t, "--url", srv.URL, "snapshots", "restore", snap.ID)
		assert.ErrorContains(t, err, "--yes")

		out, err = execute(t, "--url", srv.URL, "snapshots", "restore", snap.ID, "--yes", "--actor", "ops")
		require.NoError(t, err)
		assert.Contains(t, out, "restored "+snap.ID)

		out, err = execute(t, "--url", srv.URL, "snapshots", "delete", snap.ID)
		require.NoError(t, err)
		assert.Contains(t, out, "deleted")
	})

	t.Run("errors", func(t *testing.T) {
		_, err := execute(t, "--url", srv.URL, "table", "bl1")
		assert.Error(t, err)

		_, err = execute(t, "--url", srv.URL, "recalc", "bl1/2025", "-p", "soon")
		assert.Error(t, err)

		_, err = execute(t, "--url", srv.URL, "job", "missing")
		var apiErr *ctl.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
	})
}

func TestTableCreateMissing(t *testing.T) {
	_, srv := startServer(t)
	ctx := context.Background()
	c := ctl.NewClient(srv.URL, 5*time.Second)

	rows, err := c.Table(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, rows)

	out, err := execute(t, "--url", srv.URL, "--format", "json", "table", "bl1/2025", "--create-missing")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, i+1, r.Rank)
		assert.Zero(t, r.Points)
	}

	res, err := c.CreateMissingEntries(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Len(t, res.Entries, 3)
}
