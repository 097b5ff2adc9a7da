// Package sqlite provides the "sqlite" sink, which keeps the latest value
// of every (entity, aspect) pair in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/divyamanohar-stripe/datahub/db"
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/divyamanohar-stripe/datahub/sink"
	"go.uber.org/zap"
)

// Metadata describes the sqlite sink.
var Metadata = plugin.Metadata{
	Name:        "sqlite",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Upsert change proposals into a local SQLite database",
}

const (
	upsertSQL = `INSERT INTO change_proposals
    (entity_urn, aspect_name, entity_type, change_type, aspect, run_id, work_unit_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_urn, aspect_name) DO UPDATE SET
    entity_type = excluded.entity_type,
    change_type = excluded.change_type,
    aspect = excluded.aspect,
    run_id = excluded.run_id,
    work_unit_id = excluded.work_unit_id,
    updated_at = excluded.updated_at`

	deleteSQL = `DELETE FROM change_proposals WHERE entity_urn = ? AND aspect_name = ?`
)

// Options configures the sqlite sink.
type Options struct {
	Path string `mapstructure:"path"`
	// BatchPerUnit buffers a unit's records and commits them in one
	// transaction at the end of the unit.
	BatchPerUnit *bool `mapstructure:"batch_per_unit"`
}

type pending struct {
	env      *ingestion.RecordEnvelope
	proposal *metadata.ChangeProposal
	ack      ingestion.WriteCallback
}

// Sink writes proposals to the change_proposals table.
type Sink struct {
	db     *sql.DB
	ownsDB bool
	batch  bool
	runID  string
	now    func() time.Time
	report *ingestion.Report
	logger *zap.SugaredLogger

	mu      sync.Mutex
	buffers map[string][]pending
	closed  bool
}

// New is the plugin factory. It opens path and applies migrations.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, errors.New("path is required")
	}
	log := componentLogger(pctx)
	conn, err := db.OpenWithMigrations(opts.Path, log)
	if err != nil {
		return nil, err
	}
	s := NewWithDB(conn, opts, pctx)
	s.ownsDB = true
	return s, nil
}

// NewWithDB builds a sink on an already migrated database. The caller keeps
// ownership of conn.
func NewWithDB(conn *sql.DB, opts Options, pctx *ingestion.PipelineContext) *Sink {
	batch := true
	if opts.BatchPerUnit != nil {
		batch = *opts.BatchPerUnit
	}
	runID := ""
	if pctx != nil {
		runID = pctx.RunID()
	}
	return &Sink{
		db:      conn,
		batch:   batch,
		runID:   runID,
		now:     time.Now,
		report:  ingestion.NewReport(Metadata.Name),
		logger:  componentLogger(pctx),
		buffers: make(map[string][]pending),
	}
}

func componentLogger(pctx *ingestion.PipelineContext) *zap.SugaredLogger {
	log := logger.ComponentLogger("sink.sqlite")
	if pctx != nil {
		log = log.With(logger.FieldRunID, pctx.RunID())
	}
	return log
}

func (s *Sink) Report() *ingestion.Report { return s.report }

func (s *Sink) OnUnitStart(ctx context.Context, unit *ingestion.WorkUnit) error { return nil }

// WriteAsync buffers the record until its unit ends, or writes it at once
// when batching is off. Invalid records fail immediately.
func (s *Sink) WriteAsync(ctx context.Context, env *ingestion.RecordEnvelope, cb ingestion.WriteCallback) {
	s.report.AddRecords(1)
	ack := sink.Reporting(s.report, cb)

	p, err := sink.Proposal(env)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		ack.OnFailure(env, err, nil)
		return
	}
	item := pending{env: env, proposal: p, ack: ack}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ack.OnFailure(env, errors.WithStack(db.ErrDatabaseClosed), nil)
		return
	}
	if s.batch {
		s.buffers[env.WorkUnitID] = append(s.buffers[env.WorkUnitID], item)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.flush(ctx, env.WorkUnitID, []pending{item})
}

// OnUnitEnd commits the unit's buffered records. A failed commit fails
// those records; it does not fail the unit.
func (s *Sink) OnUnitEnd(ctx context.Context, unit *ingestion.WorkUnit) error {
	s.mu.Lock()
	items := s.buffers[unit.ID]
	delete(s.buffers, unit.ID)
	s.mu.Unlock()

	s.flush(ctx, unit.ID, items)
	return nil
}

func (s *Sink) flush(ctx context.Context, unitID string, items []pending) {
	if len(items) == 0 {
		return
	}
	start := s.now()
	if err := s.commit(ctx, items); err != nil {
		s.logger.Warnw("Flush failed",
			logger.FieldWorkUnit, unitID,
			logger.FieldBatchSize, len(items),
			logger.FieldError, err.Error())
		for _, it := range items {
			it.ack.OnFailure(it.env, err, nil)
		}
		return
	}
	s.logger.Debugw("Flushed unit",
		logger.FieldWorkUnit, unitID,
		logger.FieldBatchSize, len(items),
		logger.FieldDurationMS, s.now().Sub(start).Milliseconds())
	for _, it := range items {
		it.ack.OnSuccess(it.env, map[string]any{
			"entity_urn": it.proposal.EntityURN,
			"aspect":     it.proposal.AspectName,
			"batch":      len(items),
		})
	}
}

func (s *Sink) commit(ctx context.Context, items []pending) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	updatedAt := s.now().UTC()
	for _, it := range items {
		p := it.proposal
		if p.ChangeType == metadata.ChangeDelete {
			_, err = tx.ExecContext(ctx, deleteSQL, p.EntityURN, p.AspectName)
		} else {
			var aspect []byte
			aspect, err = json.Marshal(p.Aspect)
			if err == nil {
				_, err = tx.ExecContext(ctx, upsertSQL,
					p.EntityURN, p.AspectName, p.EntityType, string(p.ChangeType),
					string(aspect), s.runID, it.env.WorkUnitID, updatedAt)
			}
		}
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "write %s", p.Key())
		}
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// Close flushes units that never ended, then closes the database if the
// sink opened it.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	buffers := s.buffers
	s.buffers = nil
	s.mu.Unlock()

	units := make([]string, 0, len(buffers))
	for id := range buffers {
		units = append(units, id)
	}
	sort.Strings(units)
	for _, id := range units {
		s.flush(ctx, id, buffers[id])
	}

	if s.ownsDB {
		return errors.Wrap(s.db.Close(), "close database")
	}
	return nil
}
