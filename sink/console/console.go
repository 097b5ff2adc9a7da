// Package console provides the "console" sink, which prints each proposal
// as a JSON line on stdout.
package console

import (
	"context"
	"io"
	"os"

	"github.com/divyamanohar-stripe/datahub/emitter"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/divyamanohar-stripe/datahub/sink"
	"go.uber.org/zap"
)

// Metadata describes the console sink.
var Metadata = plugin.Metadata{
	Name:        "console",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Print change proposals as JSON lines on stdout",
}

// Options configures the console sink.
type Options struct {
	Pretty bool `mapstructure:"pretty"`
}

// Sink writes proposals through the stream emitter and acknowledges each
// write before WriteAsync returns.
type Sink struct {
	emitter emitter.Emitter
	report  *ingestion.Report
	logger  *zap.SugaredLogger
}

// New is the plugin factory.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
	return NewWithWriter(config, pctx, os.Stdout)
}

// NewWithWriter builds a console sink that writes to w.
func NewWithWriter(config map[string]any, pctx *ingestion.PipelineContext, w io.Writer) (*Sink, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	em, err := emitter.New(emitter.TransportStream, emitter.Options{Writer: w, Pretty: opts.Pretty})
	if err != nil {
		return nil, err
	}
	return &Sink{
		emitter: em,
		report:  ingestion.NewReport(Metadata.Name),
		logger:  logger.ComponentLogger("sink.console"),
	}, nil
}

func (s *Sink) Report() *ingestion.Report { return s.report }

func (s *Sink) OnUnitStart(ctx context.Context, unit *ingestion.WorkUnit) error {
	// run and unit ids come from ctx
	logger.LoggerFromContext(ctx, s.logger).Debugw("Unit started")
	return nil
}

// WriteAsync emits synchronously; cb has fired by the time it returns.
func (s *Sink) WriteAsync(ctx context.Context, env *ingestion.RecordEnvelope, cb ingestion.WriteCallback) {
	s.report.AddRecords(1)
	ack := sink.Reporting(s.report, cb)

	p, err := sink.Proposal(env)
	if err != nil {
		ack.OnFailure(env, err, nil)
		return
	}
	meta, err := s.emitter.Emit(ctx, p)
	if err != nil {
		logger.LoggerFromContext(ctx, s.logger).Debugw("Emit failed",
			logger.FieldRecordID, env.ID,
			logger.FieldError, err.Error())
		ack.OnFailure(env, err, meta)
		return
	}
	ack.OnSuccess(env, meta)
}

func (s *Sink) OnUnitEnd(ctx context.Context, unit *ingestion.WorkUnit) error {
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	return s.emitter.Close()
}
