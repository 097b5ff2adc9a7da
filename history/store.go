// Package history persists the outcome of every ingestion run so past runs
// can be listed after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/pipeline"
)

// DefaultLimit is the number of runs List returns when limit is 0.
const DefaultLimit = 20

// timeLayout sorts lexically in the same order as the instants it encodes.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Run is one row of the run history.
type Run struct {
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	SourceType string     `json:"source_type"`
	SinkType   string     `json:"sink_type"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	WorkUnits  int        `json:"work_units"`
	Records    int        `json:"records"`
	Written    int        `json:"written"`
	Failed     int        `json:"failed"`
	Warnings   int        `json:"warnings"`
	Error      string     `json:"error,omitempty"`

	// Outcome is the full outcome document as JSON.
	Outcome json.RawMessage `json:"outcome,omitempty"`
}

// Duration is the wall time of the run, zero if it never finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store reads and writes the ingestion_runs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves outcome. Recording the same run id again replaces the row.
func (s *Store) Record(ctx context.Context, outcome *pipeline.Outcome) error {
	if outcome == nil {
		return errors.NewInvalidRequestError("cannot record a nil outcome")
	}
	doc, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrapf(err, "failed to encode outcome of run %s", outcome.RunID)
	}

	var finishedAt, errMsg interface{}
	if !outcome.FinishedAt.IsZero() {
		finishedAt = outcome.FinishedAt.UTC().Format(timeLayout)
	}
	if outcome.Error != "" {
		errMsg = outcome.Error
	}
	warnings := len(outcome.Source.Warnings) + len(outcome.Sink.Warnings) + len(outcome.Pipeline.Warnings)

	query := `
		INSERT INTO ingestion_runs (
			run_id, state, source_type, sink_type, started_at, finished_at,
			work_units, records, written, failed, warnings, error, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			source_type = excluded.source_type,
			sink_type = excluded.sink_type,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			work_units = excluded.work_units,
			records = excluded.records,
			written = excluded.written,
			failed = excluded.failed,
			warnings = excluded.warnings,
			error = excluded.error,
			outcome = excluded.outcome
	`
	_, err = s.db.ExecContext(ctx, query,
		outcome.RunID,
		outcome.State.String(),
		outcome.SourceType,
		outcome.SinkType,
		outcome.StartedAt.UTC().Format(timeLayout),
		finishedAt,
		outcome.Pipeline.Stats.WorkUnits,
		outcome.Pipeline.Stats.Records,
		outcome.Writes.Succeeded,
		outcome.Writes.Failed,
		warnings,
		errMsg,
		string(doc),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", outcome.RunID)
	}
	return nil
}

// List returns up to limit runs, most recently started first. The outcome
// document is not loaded; use Get for that.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 0 {
		return nil, errors.NewInvalidRequestError("limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, state, source_type, sink_type, started_at, finished_at,
			work_units, records, written, failed, warnings, error
		FROM ingestion_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows, nil)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return runs, nil
}

// Get returns one run including its outcome document.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, state, source_type, sink_type, started_at, finished_at,
			work_units, records, written, failed, warnings, error, outcome
		FROM ingestion_runs
		WHERE run_id = ?
	`, runID)

	var outcome string
	run, err := scanRun(row, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	run.Outcome = json.RawMessage(outcome)
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, outcome *string) (*Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
		errMsg     sql.NullString
	)
	dest := []any{
		&run.RunID, &run.State, &run.SourceType, &run.SinkType, &startedAt, &finishedAt,
		&run.WorkUnits, &run.Records, &run.Written, &run.Failed, &run.Warnings, &errMsg,
	}
	if outcome != nil {
		dest = append(dest, outcome)
	}
	if err := sc.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, errors.Wrapf(err, "run %s: bad started_at %q", run.RunID, startedAt)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "run %s: bad finished_at %q", run.RunID, finishedAt.String)
		}
		run.FinishedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}
