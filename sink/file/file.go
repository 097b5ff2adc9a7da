// Package file provides the "file" sink, which writes every proposal into
// one JSON array document.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/divyamanohar-stripe/datahub/sink"
	"go.uber.org/zap"
)

// Metadata describes the file sink.
var Metadata = plugin.Metadata{
	Name:        "file",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Write change proposals to a JSON array file",
}

// Options configures the file sink.
type Options struct {
	Filename string `mapstructure:"filename"`
}

// Sink appends proposals to a JSON array. The array is opened on the first
// write and terminated by Close.
type Sink struct {
	path   string
	report *ingestion.Report
	logger *zap.SugaredLogger

	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	written int
	closed  bool
	// broken is the first write error; once set the array cannot be
	// completed and every later write fails.
	broken error
}

// New is the plugin factory. The output file is created (or truncated)
// immediately so an unwritable path fails construction.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.Filename == "" {
		return nil, errors.New("filename is required")
	}
	if dir := filepath.Dir(opts.Filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	f, err := os.Create(opts.Filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", opts.Filename)
	}

	log := logger.ComponentLogger("sink.file")
	if pctx != nil {
		log = log.With(logger.FieldRunID, pctx.RunID())
	}
	log.Infow("Writing proposals", logger.FieldFile, opts.Filename)
	return &Sink{
		path:   opts.Filename,
		report: ingestion.NewReport(Metadata.Name),
		logger: log,
		f:      f,
		w:      bufio.NewWriter(f),
	}, nil
}

func (s *Sink) Report() *ingestion.Report { return s.report }

func (s *Sink) OnUnitStart(ctx context.Context, unit *ingestion.WorkUnit) error { return nil }

func (s *Sink) OnUnitEnd(ctx context.Context, unit *ingestion.WorkUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.broken != nil {
		return s.broken
	}
	if err := s.w.Flush(); err != nil {
		s.broken = errors.Wrapf(err, "failed to flush %s", s.path)
		return s.broken
	}
	return nil
}

// WriteAsync appends one proposal; cb has fired by the time it returns.
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
	doc, err := json.MarshalIndent(p, "  ", "  ")
	if err != nil {
		ack.OnFailure(env, errors.Wrap(err, "failed to encode proposal"), nil)
		return
	}

	s.mu.Lock()
	index, err := s.append(doc)
	s.mu.Unlock()
	if err != nil {
		ack.OnFailure(env, err, nil)
		return
	}
	ack.OnSuccess(env, map[string]any{"file": s.path, "index": index})
}

func (s *Sink) append(doc []byte) (int, error) {
	if s.closed {
		return 0, errors.Newf("file sink %s is closed", s.path)
	}
	if s.broken != nil {
		return 0, errors.Wrap(s.broken, "earlier write failed")
	}
	sep := ",\n  "
	if s.written == 0 {
		sep = "[\n  "
	}
	if _, err := s.w.WriteString(sep); err != nil {
		s.broken = errors.Wrapf(err, "failed to write %s", s.path)
		return 0, s.broken
	}
	if _, err := s.w.Write(doc); err != nil {
		s.broken = errors.Wrapf(err, "failed to write %s", s.path)
		return 0, s.broken
	}
	s.written++
	return s.written - 1, nil
}

// Close terminates the array and closes the file. An empty run leaves an
// empty array.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.broken != nil {
		_ = s.f.Close()
		return errors.Wrapf(s.broken, "%s is incomplete", s.path)
	}

	tail := "\n]\n"
	if s.written == 0 {
		tail = "[]\n"
	}
	_, werr := s.w.WriteString(tail)
	if werr == nil {
		werr = s.w.Flush()
	}
	cerr := s.f.Close()
	if werr != nil {
		return errors.Wrapf(werr, "failed to finalise %s", s.path)
	}
	if cerr != nil {
		return errors.Wrapf(cerr, "failed to close %s", s.path)
	}
	s.logger.Infow("Wrote proposals", logger.FieldFile, s.path, logger.FieldCount, s.written)
	return nil
}
