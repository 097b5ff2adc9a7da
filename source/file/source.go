// Package file provides the "file" source, which reads change proposals
// from a JSON array or newline-delimited JSON file, local or remote.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/internal/fetch"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"go.uber.org/zap"
)

// Metadata describes the file source.
var Metadata = plugin.Metadata{
	Name:        "file",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Change proposals from a JSON or NDJSON file (local path or URL)",
}

const maxLineBytes = 16 * 1024 * 1024

// Options configures the file source.
type Options struct {
	Filename string `mapstructure:"filename"`
	// ProposalsPerUnit groups consecutive proposals into one work unit.
	ProposalsPerUnit int `mapstructure:"proposals_per_unit"`
}

// Source reads proposals from one file.
type Source struct {
	opts   Options
	report *ingestion.Report
	logger *zap.SugaredLogger

	mu       sync.Mutex
	iterated bool
	resolved *fetch.Resolved
}

// New is the plugin factory.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Source, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.Filename == "" {
		return nil, errors.New("filename is required")
	}
	if opts.ProposalsPerUnit < 0 {
		return nil, errors.Newf("proposals_per_unit must be >= 0, got %d", opts.ProposalsPerUnit)
	}
	if opts.ProposalsPerUnit == 0 {
		opts.ProposalsPerUnit = 1
	}

	log := logger.ComponentLogger("source.file")
	if pctx != nil {
		log = log.With(logger.FieldRunID, pctx.RunID())
	}
	return &Source{
		opts:   opts,
		report: ingestion.NewReport(Metadata.Name),
		logger: log,
	}, nil
}

func (s *Source) Report() *ingestion.Report {
	return s.report
}

// WorkUnits yields one unit per ProposalsPerUnit proposals, with ids of the
// form "<file>:<index of first proposal>". Malformed entries are reported
// and skipped; an unreadable or syntactically broken file ends the
// sequence with an error.
func (s *Source) WorkUnits(ctx context.Context) iter.Seq2[*ingestion.WorkUnit, error] {
	return func(yield func(*ingestion.WorkUnit, error) bool) {
		s.mu.Lock()
		if s.iterated {
			s.mu.Unlock()
			yield(nil, errors.New("file source can only be iterated once"))
			return
		}
		s.iterated = true
		s.mu.Unlock()

		resolved, err := fetch.Resolve(ctx, s.opts.Filename, fetch.ModeFile, s.logger)
		if err != nil {
			yield(nil, err)
			return
		}
		s.mu.Lock()
		s.resolved = resolved
		s.mu.Unlock()

		f, err := os.Open(resolved.LocalPath)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open %s", s.opts.Filename))
			return
		}
		defer f.Close()

		name := filepath.Base(s.opts.Filename)
		var (
			batch []*metadata.ChangeProposal
			first int
		)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			var payload any = batch
			if len(batch) == 1 {
				payload = batch[0]
			}
			unit := ingestion.NewWorkUnit(fmt.Sprintf("%s:%d", name, first), payload)
			s.report.AddWorkUnit()
			s.report.AddRecords(len(batch))
			batch = nil
			return yield(unit, nil)
		}

		stopped := false
		err = decodeProposals(f, s.report, func(idx int, p *metadata.ChangeProposal) bool {
			if len(batch) == 0 {
				first = idx
			}
			batch = append(batch, p)
			if len(batch) >= s.opts.ProposalsPerUnit && !flush() {
				stopped = true
				return false
			}
			if ctx.Err() != nil {
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to read %s", s.opts.Filename))
			return
		}
		flush()
	}
}

// Close removes any temporary download.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != nil {
		s.resolved.Cleanup()
		s.resolved = nil
	}
	return nil
}

// decodeProposals calls emit for each well-formed proposal in r, which may
// hold a JSON array or one JSON object per line. Entries that parse as JSON
// but fail to decode or validate are recorded on report and skipped.
func decodeProposals(r io.Reader, report *ingestion.Report, emit func(int, *metadata.ChangeProposal) bool) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if first == '[' {
		return decodeArray(br, report, emit)
	}
	return decodeLines(br, report, emit)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func decodeArray(r io.Reader, report *ingestion.Report, emit func(int, *metadata.ChangeProposal) bool) error {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return err
	}
	for idx := 0; dec.More(); idx++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return errors.Wrapf(err, "entry %d", idx)
		}
		p, ok := parseProposal(raw, idx, report)
		if ok && !emit(idx, p) {
			return nil
		}
	}
	if _, err := dec.Token(); err != nil {
		return errors.Wrap(err, "unterminated array")
	}
	return nil
}

func decodeLines(r io.Reader, report *ingestion.Report, emit func(int, *metadata.ChangeProposal) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	idx := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		p, ok := parseProposal(line, idx, report)
		idx++
		if ok && !emit(idx-1, p) {
			return nil
		}
	}
	return scanner.Err()
}

func parseProposal(raw []byte, idx int, report *ingestion.Report) (*metadata.ChangeProposal, bool) {
	var p metadata.ChangeProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		report.AddFailure("parse", "MALFORMED_ENTRY", fmt.Sprintf("entry %d: %v", idx, err))
		return nil, false
	}
	if err := p.Validate(); err != nil {
		report.AddFailure("parse", "INVALID_PROPOSAL", fmt.Sprintf("entry %d: %v", idx, err))
		return nil, false
	}
	return &p, true
}
