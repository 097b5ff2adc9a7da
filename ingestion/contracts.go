package ingestion

import (
	"context"
	"iter"
)

// Source produces work units lazily. WorkUnits may be called once per
// source; iterating it a second time is unsupported. A non-nil error in the
// sequence means iteration itself broke and the run cannot continue.
type Source interface {
	WorkUnits(ctx context.Context) iter.Seq2[*WorkUnit, error]
	Report() *Report
	Close() error
}

// Extractor turns one work unit into records. Configure is called before
// every unit so no state leaks between units; Close is called exactly once
// per unit after its sequence has been drained or has failed.
type Extractor interface {
	Configure(options map[string]any, pctx *PipelineContext) error
	Extract(ctx context.Context, unit *WorkUnit) iter.Seq2[*RecordEnvelope, error]
	Close() error
}

// Sink consumes records asynchronously.
//
// WriteAsync returns once the sink has accepted the envelope; the callback
// may fire later on another goroutine. Close must not return until every
// accepted envelope has been acknowledged.
type Sink interface {
	OnUnitStart(ctx context.Context, unit *WorkUnit) error
	WriteAsync(ctx context.Context, env *RecordEnvelope, cb WriteCallback)
	OnUnitEnd(ctx context.Context, unit *WorkUnit) error
	Close(ctx context.Context) error
	Report() *Report
}
