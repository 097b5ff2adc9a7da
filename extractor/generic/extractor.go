// Package generic provides the default extractor, which passes change
// proposals carried by work units straight through as records.
package generic

import (
	"context"
	"iter"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/divyamanohar-stripe/datahub/recipe"
)

// Name is the qualified name the extractor registers under.
const Name = recipe.DefaultExtractor

// Options are the extractor options a pipeline may pass to Configure.
type Options struct {
	// SkipInvalid drops proposals that fail validation instead of failing
	// the unit. Dropped proposals are counted in Skipped.
	SkipInvalid bool `mapstructure:"skip_invalid"`
}

// WorkUnitMCEExtractor yields one envelope per change proposal in a work
// unit's payload. The payload must be a *metadata.ChangeProposal or a
// []*metadata.ChangeProposal.
type WorkUnitMCEExtractor struct {
	opts    Options
	runID   string
	skipped int
}

// New returns an unconfigured extractor.
func New() ingestion.Extractor {
	return &WorkUnitMCEExtractor{}
}

// Configure resets per-unit state and applies options.
func (e *WorkUnitMCEExtractor) Configure(options map[string]any, pctx *ingestion.PipelineContext) error {
	var opts Options
	if err := recipe.DecodeOptions(options, &opts); err != nil {
		return errors.Wrap(err, "generic extractor options")
	}
	e.opts = opts
	e.skipped = 0
	if pctx != nil {
		e.runID = pctx.RunID()
	}
	return nil
}

// Extract yields the unit's proposals in order. A proposal that fails
// validation ends the sequence with an error unless SkipInvalid is set.
func (e *WorkUnitMCEExtractor) Extract(ctx context.Context, unit *ingestion.WorkUnit) iter.Seq2[*ingestion.RecordEnvelope, error] {
	return func(yield func(*ingestion.RecordEnvelope, error) bool) {
		proposals, err := proposalsOf(unit)
		if err != nil {
			yield(nil, err)
			return
		}

		for i, p := range proposals {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if err := p.Validate(); err != nil {
				if e.opts.SkipInvalid {
					e.skipped++
					continue
				}
				yield(nil, errors.Wrapf(err, "work unit %s: proposal %d", unit.ID, i))
				return
			}
			meta := map[string]any{"index": i}
			if e.runID != "" {
				meta["run_id"] = e.runID
			}
			if !yield(ingestion.NewRecordEnvelope(unit.ID, p, meta), nil) {
				return
			}
		}
	}
}

// Skipped returns how many invalid proposals were dropped since the last
// Configure.
func (e *WorkUnitMCEExtractor) Skipped() int {
	return e.skipped
}

// Close has nothing to release.
func (e *WorkUnitMCEExtractor) Close() error {
	return nil
}

func proposalsOf(unit *ingestion.WorkUnit) ([]*metadata.ChangeProposal, error) {
	switch p := unit.Payload.(type) {
	case *metadata.ChangeProposal:
		return []*metadata.ChangeProposal{p}, nil
	case []*metadata.ChangeProposal:
		return p, nil
	case nil:
		return nil, errors.NewInvalidRequestError("work unit %s has no payload", unit.ID)
	default:
		return nil, errors.NewInvalidRequestError("work unit %s: unsupported payload type %T", unit.ID, unit.Payload)
	}
}

var _ ingestion.Extractor = (*WorkUnitMCEExtractor)(nil)
