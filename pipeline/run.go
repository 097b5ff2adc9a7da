package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/pulse/async"
	"go.uber.org/zap"
)

// Issue codes the orchestrator records in its own report.
const (
	CodeConfigureFailed      = "CONFIGURE_FAILED"
	CodeExtractionFailed     = "EXTRACTION_FAILED"
	CodeExtractorCloseFailed = "EXTRACTOR_CLOSE_FAILED"
	CodeSourceCloseFailed    = "SOURCE_CLOSE_FAILED"
	CodeUnacknowledged       = "UNACKNOWLEDGED_WRITES"
)

const maxListedIDs = 5

// Run executes the pipeline once and returns its outcome. The returned
// error is non-nil only for run-fatal failures: the extractor factory
// returning nil, the source's iteration breaking, a sink unit hook or Close
// failing, ctx being cancelled between units, or writes left unacknowledged
// after the sink closed. Per-record
// write failures and per-unit extraction failures are recorded in the
// outcome's reports and do not fail the run.
//
// A unit whose extractor fails to configure or to extract is skipped: the
// failure goes into the pipeline report, the extractor is still closed, the
// sink still sees the unit's OnUnitStart and OnUnitEnd, and the loop moves
// to the next unit.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, errors.WithStack(errors.ErrAlreadyRun)
	}
	p.state.Store(int32(StateRunning))
	startedAt := p.clock()
	ctx = logger.WithRunID(ctx, p.RunID())

	p.logger.Infow("Pipeline run started", logger.FieldState, StateRunning.String())
	p.progress.EmitStage("ingest", fmt.Sprintf("%s → %s", p.recipe.Source.Type, p.recipe.Sink.Type))

	tracker := newTracker(p.logger, p.report)
	var fatal error
	if extractor := p.newExtractor(); extractor != nil {
		fatal = p.loop(ctx, extractor, tracker)
	} else {
		fatal = errors.Mark(errors.NewConfigurationError(errors.KindExtractor, p.recipe.Source.Extractor,
			"factory returned a nil extractor"), errors.ErrRunFailed)
	}

	// Close must drain even when the run was cancelled.
	closeCtx := context.WithoutCancel(ctx)
	p.progress.EmitStage("close", "waiting for outstanding writes")
	if err := p.sink.Close(closeCtx); err != nil {
		fatal = attach(fatal, errors.NewRunError(err, errors.KindSink, p.recipe.Sink.Type, "close"))
	}
	if ids := tracker.seal(); len(ids) > 0 {
		fatal = attach(fatal, p.unacknowledged(ids))
	}
	if err := p.source.Close(); err != nil {
		p.report.AddWarning("close", CodeSourceCloseFailed, err.Error())
		p.logger.Warnw("Source close failed", logger.FieldError, err.Error())
	}

	outcome := p.outcome(startedAt, tracker.snapshot(), fatal)
	p.state.Store(int32(outcome.State))

	if fatal != nil {
		p.logger.Errorw("Pipeline run failed",
			logger.FieldError, fatal.Error(),
			logger.FieldDurationMS, outcome.Duration().Milliseconds())
		p.progress.EmitError("run", fatal)
		return outcome, fatal
	}
	p.logger.Infow("Pipeline run completed",
		logger.FieldCount, outcome.Pipeline.Stats.WorkUnits,
		"records", outcome.Pipeline.Stats.Records,
		logger.FieldDurationMS, outcome.Duration().Milliseconds())
	p.progress.EmitComplete(map[string]interface{}{
		"run_id":     outcome.RunID,
		"work_units": outcome.Pipeline.Stats.WorkUnits,
		"records":    outcome.Pipeline.Stats.Records,
		"succeeded":  outcome.Writes.Succeeded,
		"failed":     outcome.Writes.Failed,
	})
	return outcome, nil
}

// attach keeps the first fatal error as the cause and hangs later ones off
// it as secondary errors.
func attach(fatal, err error) error {
	if fatal == nil {
		return err
	}
	return errors.WithSecondaryError(fatal, err)
}

func (p *Pipeline) loop(ctx context.Context, extractor ingestion.Extractor, tracker *tracker) error {
	units := 0
	for unit, err := range p.source.WorkUnits(ctx) {
		if err != nil {
			return errors.NewRunError(err, errors.KindSource, p.recipe.Source.Type, "iterate work units")
		}
		if unit == nil {
			return errors.NewRunError(errors.New("source yielded a nil work unit"),
				errors.KindSource, p.recipe.Source.Type, "iterate work units")
		}
		if err := ctx.Err(); err != nil {
			return errors.Mark(errors.Wrapf(err, "run cancelled before unit %q", unit.ID), errors.ErrRunFailed)
		}

		if err := p.processUnit(ctx, extractor, unit, tracker); err != nil {
			return err
		}
		units++
		p.progress.EmitProgress(units, map[string]interface{}{"unit": unit.ID})
	}
	return nil
}

// processUnit runs one unit through the extractor into the sink. It
// returns an error only when the run must stop.
func (p *Pipeline) processUnit(ctx context.Context, extractor ingestion.Extractor, unit *ingestion.WorkUnit, tracker *tracker) error {
	ctx = logger.WithWorkUnit(ctx, unit.ID)
	log := p.logger.With(logger.FieldWorkUnit, unit.ID)
	p.report.AddWorkUnit()

	configErr := extractor.Configure(p.extractorOptions, p.pctx)
	if configErr != nil {
		p.unitFailed(log, unit, "configure", CodeConfigureFailed, configErr)
	}

	if err := p.sink.OnUnitStart(ctx, unit); err != nil {
		p.closeExtractor(log, extractor, unit)
		return errors.NewRunError(err, errors.KindSink, p.recipe.Sink.Type, "start unit "+unit.ID)
	}

	// An unconfigured extractor writes nothing, but the sink still gets the
	// unit boundary.
	var (
		written    int
		extractErr error
	)
	if configErr == nil {
		written, extractErr = p.extract(ctx, extractor, unit, tracker)
	}
	p.closeExtractor(log, extractor, unit)
	if extractErr != nil {
		p.unitFailed(log, unit, "extract", CodeExtractionFailed, extractErr)
	}

	if err := p.sink.OnUnitEnd(ctx, unit); err != nil {
		return errors.NewRunError(err, errors.KindSink, p.recipe.Sink.Type, "end unit "+unit.ID)
	}
	log.Debugw("Unit processed", logger.FieldCount, written)
	return nil
}

// extract submits every envelope of unit to the sink in extraction order.
// A panicking extractor is treated as an extraction failure.
func (p *Pipeline) extract(ctx context.Context, extractor ingestion.Extractor, unit *ingestion.WorkUnit, tracker *tracker) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("extractor panicked: %v", r)
		}
	}()
	for env, err := range extractor.Extract(ctx, unit) {
		if err != nil {
			return n, err
		}
		if env == nil {
			return n, errors.New("extractor yielded a nil record envelope")
		}
		if env.WorkUnitID == "" {
			env.WorkUnitID = unit.ID
		}
		p.report.AddRecords(1)
		p.sink.WriteAsync(ctx, env, tracker.track(env))
		n++
	}
	return n, nil
}

func (p *Pipeline) closeExtractor(log *zap.SugaredLogger, extractor ingestion.Extractor, unit *ingestion.WorkUnit) {
	if err := extractor.Close(); err != nil {
		p.report.AddFailure("extract", CodeExtractorCloseFailed, fmt.Sprintf("unit %s: %v", unit.ID, err))
		log.Warnw("Extractor close failed", logger.FieldError, err.Error())
	}
}

func (p *Pipeline) unitFailed(log *zap.SugaredLogger, unit *ingestion.WorkUnit, stage, code string, err error) {
	p.report.AddFailure(stage, code, fmt.Sprintf("unit %s: %v", unit.ID, err), errors.GetAllHints(err)...)
	log.Warnw("Unit skipped", logger.FieldStage, stage, logger.FieldError, err.Error())
	p.progress.EmitError(stage, err)
}

func (p *Pipeline) unacknowledged(ids []string) error {
	listed := ids
	if len(listed) > maxListedIDs {
		listed = listed[:maxListedIDs]
	}
	msg := fmt.Sprintf("%d record(s) never acknowledged: %s", len(ids), strings.Join(listed, ", "))
	if len(ids) > len(listed) {
		msg += ", ..."
	}
	p.report.AddFailure("close", CodeUnacknowledged, msg)
	err := errors.WithDetail(errors.Mark(errors.WithStack(errors.ErrUnacknowledgedWrites), errors.ErrRunFailed), msg)
	return errors.WithHintf(err, "sink %q returned from Close before acknowledging every write", p.recipe.Sink.Type)
}

func (p *Pipeline) outcome(startedAt time.Time, writes WriteStats, fatal error) *Outcome {
	o := &Outcome{
		RunID:      p.RunID(),
		SourceType: p.recipe.Source.Type,
		SinkType:   p.recipe.Sink.Type,
		State:      StateCompleted,
		StartedAt:  startedAt,
		FinishedAt: p.clock(),
		Source:     p.source.Report().Summary(),
		Sink:       p.sink.Report().Summary(),
		Pipeline:   p.report.Summary(),
		Writes:     writes,
	}
	if mem, err := async.ReadMemory(); err == nil {
		o.Memory = &mem
	} else {
		p.logger.Debugw("Memory snapshot unavailable", logger.FieldError, err.Error())
	}
	if fatal != nil {
		o.State = StateFailed
		o.Err = fatal
		o.Error = fatal.Error()
	}
	return o
}
