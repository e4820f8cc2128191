package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/testutil"
)

func newRunLog(t *testing.T) *SQLETLLogRepository {
	t.Helper()
	w := testutil.NewWarehouse(t)
	table, err := w.Catalog.Meta.Lookup(catalog.EntityRuns)
	require.NoError(t, err)
	repo, err := NewSQLETLLogRepository(w.DB, w.Dialect, table)
	require.NoError(t, err)
	return repo
}

func TestRunLogLifecycle(t *testing.T) {
	repo := newRunLog(t)
	ctx := context.Background()
	start := time.Date(2021, time.March, 2, 1, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateLogEntry(ctx, "run-1", start))

	runs, err := repo.GetETLRunStats(ctx, start.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusInProgress, runs[0].Status)
	assert.Nil(t, runs[0].EndTime)

	last, err := repo.GetLastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "успешных запусков ещё нет")

	businessDate := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLogEntrySuccess(ctx, "run-1", start.Add(90*time.Second), RunStats{
		BatchesProcessed: 6,
		RowsStaged:       42,
		FraudEvents:      3,
		LastBusinessDate: businessDate,
	}))

	last, err = repo.GetLastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, RunStatusSuccess, last.Status)
	assert.Equal(t, 6, last.BatchesProcessed)
	assert.Equal(t, 42, last.RowsStaged)
	assert.Equal(t, 3, last.FraudEvents)
	assert.InDelta(t, 90, last.ExecutionTimeSeconds, 0.001)
	require.NotNil(t, last.LastBusinessDate)
	assert.True(t, businessDate.Equal(*last.LastBusinessDate))
	assert.Empty(t, last.ErrorMessage)
}

func TestRunLogFailure(t *testing.T) {
	repo := newRunLog(t)
	ctx := context.Background()
	start := time.Date(2021, time.March, 2, 1, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateLogEntry(ctx, "run-1", start))
	require.NoError(t, repo.UpdateLogEntryFailure(ctx, "run-1", start.Add(time.Second), "ошибка загрузки"))

	runs, err := repo.GetETLRunStats(ctx, start)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "ошибка загрузки", runs[0].ErrorMessage)
	assert.Nil(t, runs[0].LastBusinessDate)
	require.NotNil(t, runs[0].EndTime)
}

func TestRunLogUpdateUnknownRun(t *testing.T) {
	repo := newRunLog(t)
	err := repo.UpdateLogEntryFailure(context.Background(), "missing", time.Now().UTC(), "x")
	assert.Error(t, err)
}

func TestRunLogStatsSince(t *testing.T) {
	repo := newRunLog(t)
	ctx := context.Background()
	base := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.CreateLogEntry(ctx, id, base.Add(time.Duration(i)*24*time.Hour)))
	}

	runs, err := repo.GetETLRunStats(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "mid", runs[1].RunID)
}

func TestNewSQLETLLogRepositoryRejectsBadTable(t *testing.T) {
	_, err := NewSQLETLLogRepository(nil, nil, "runs; DROP TABLE x")
	assert.Error(t, err)
}

func TestNewStateMonitor(t *testing.T) {
	runs := []ETLRunLog{
		{RunID: "4", Status: RunStatusInProgress, FraudEvents: 0},
		{RunID: "3", Status: RunStatusFailed, ExecutionTimeSeconds: 2},
		{RunID: "2", Status: RunStatusSuccess, ExecutionTimeSeconds: 4, FraudEvents: 5},
		{RunID: "1", Status: RunStatusSuccess, ExecutionTimeSeconds: 6, FraudEvents: 1},
	}

	monitor := NewStateMonitor(runs)
	require.NotNil(t, monitor.CurrentRun)
	assert.Equal(t, "4", monitor.CurrentRun.RunID)
	require.NotNil(t, monitor.LastFailedRun)
	assert.Equal(t, "3", monitor.LastFailedRun.RunID)
	require.NotNil(t, monitor.LastSuccessfulRun)
	assert.Equal(t, "2", monitor.LastSuccessfulRun.RunID)
	assert.Equal(t, 2, monitor.TotalSuccessfulRuns)
	assert.Equal(t, 1, monitor.TotalFailedRuns)
	assert.Equal(t, 6, monitor.TotalFraudEvents)
	assert.InDelta(t, 4.0, monitor.AvgExecutionTimeSeconds, 0.0001)

	empty := NewStateMonitor(nil)
	assert.Nil(t, empty.LastSuccessfulRun)
	assert.Zero(t, empty.AvgExecutionTimeSeconds)
}
