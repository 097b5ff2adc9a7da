package history

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	dbtest "github.com/divyamanohar-stripe/datahub/internal/testing"
	"github.com/divyamanohar-stripe/datahub/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(runID string, started time.Time, state pipeline.State) *pipeline.Outcome {
	o := &pipeline.Outcome{
		RunID:      runID,
		SourceType: "file",
		SinkType:   "sqlite",
		State:      state,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Source:     ingestion.Summary{Name: "file", Stats: ingestion.Stats{WorkUnits: 3, Records: 3}},
		Sink: ingestion.Summary{
			Name:     "sqlite",
			Stats:    ingestion.Stats{Records: 3, Written: 2, Failed: 1},
			Warnings: []ingestion.Issue{{Stage: "write", Code: "SLOW", Message: "slow flush"}},
		},
		Pipeline: ingestion.Summary{Name: "pipeline", Stats: ingestion.Stats{WorkUnits: 3, Records: 3}},
		Writes:   pipeline.WriteStats{Submitted: 3, Succeeded: 2, Failed: 1},
	}
	if state == pipeline.StateFailed {
		o.Error = `sink "sqlite": close: disk I/O error`
	}
	return o
}

func TestRecordAndGet(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, outcome("1759311000000", started, pipeline.StateCompleted)))

	run, err := store.Get(ctx, "1759311000000")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.State)
	assert.Equal(t, "file", run.SourceType)
	assert.Equal(t, "sqlite", run.SinkType)
	assert.True(t, started.Equal(run.StartedAt))
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1500*time.Millisecond, run.Duration())
	assert.Equal(t, 3, run.WorkUnits)
	assert.Equal(t, 3, run.Records)
	assert.Equal(t, 2, run.Written)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Warnings)
	assert.Empty(t, run.Error)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(run.Outcome, &doc))
	assert.Equal(t, "completed", doc["state"])
	assert.Equal(t, "1759311000000", doc["run_id"])
}

func TestRecordReplacesSameRun(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, outcome("r1", started, pipeline.StateCompleted)))
	require.NoError(t, store.Record(ctx, outcome("r1", started, pipeline.StateFailed)))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].State)
	assert.Contains(t, runs[0].Error, "disk I/O error")
}

func TestListNewestFirst(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Record(ctx, outcome(id, base.Add(time.Duration(i)*time.Hour), pipeline.StateCompleted)))
	}

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "d", runs[0].RunID)
	assert.Equal(t, "c", runs[1].RunID)
	assert.Nil(t, runs[0].Outcome, "List does not load outcome documents")

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestListValidation(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))

	_, err := store.List(context.Background(), -1)
	assert.True(t, errors.IsInvalidRequestError(err))

	runs, err := store.List(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetMissingRun(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRecordNil(t *testing.T) {
	store := NewStore(dbtest.CreateTestDB(t))
	assert.True(t, errors.IsInvalidRequestError(store.Record(context.Background(), nil)))
}

func TestRecordDatabaseError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	started := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingestion_runs")).
		WithArgs("r1", "completed", "file", "sqlite",
			"2026-10-01T09:30:00.000Z", "2026-10-01T09:30:01.500Z",
			3, 3, 2, 1, 1, nil, sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))

	err = NewStore(conn).Record(context.Background(), outcome("r1", started, pipeline.StateCompleted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record run r1")
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListScanError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows([]string{
		"run_id", "state", "source_type", "sink_type", "started_at", "finished_at",
		"work_units", "records", "written", "failed", "warnings", "error",
	}).AddRow("r1", "completed", "file", "console", "yesterday", nil, 0, 0, 0, 0, 0, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs")).WithArgs(DefaultLimit).WillReturnRows(rows)

	_, err = NewStore(conn).List(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bad started_at "yesterday"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
