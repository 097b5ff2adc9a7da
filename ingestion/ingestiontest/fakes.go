// Package ingestiontest provides recording fakes of the ingestion
// contracts for use in tests.
package ingestiontest

import (
	"context"
	"fmt"
	"iter"
	"math/rand"
	"sync"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
)

// Log records plugin calls in the order they happened.
type Log struct {
	mu     sync.Mutex
	events []string
}

// Add appends a formatted event.
func (l *Log) Add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded events.
func (l *Log) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.events...)
}

// Count returns how many times event was recorded.
func (l *Log) Count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

// Source yields Units in order, then Err if set. FailAfter, when > 0,
// yields Err after that many units instead of at the end.
type Source struct {
	Units     []*ingestion.WorkUnit
	Err       error
	FailAfter int
	CloseErr  error
	Log       *Log

	report *ingestion.Report
	mu     sync.Mutex
	closed int
}

// NewSource creates a source yielding one unit per id. The payload of each
// unit is its id.
func NewSource(log *Log, ids ...string) *Source {
	s := &Source{Log: log, report: ingestion.NewReport("fake-source")}
	for _, id := range ids {
		s.Units = append(s.Units, ingestion.NewWorkUnit(id, id))
	}
	return s
}

func (s *Source) WorkUnits(ctx context.Context) iter.Seq2[*ingestion.WorkUnit, error] {
	return func(yield func(*ingestion.WorkUnit, error) bool) {
		for i, u := range s.Units {
			if s.Err != nil && s.FailAfter > 0 && i == s.FailAfter {
				yield(nil, s.Err)
				return
			}
			s.Report().AddWorkUnit()
			if !yield(u, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(nil, s.Err)
		}
	}
}

func (s *Source) Report() *ingestion.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		s.report = ingestion.NewReport("fake-source")
	}
	return s.report
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	if s.Log != nil {
		s.Log.Add("source_close()")
	}
	return s.CloseErr
}

// Closed returns how many times Close was called.
func (s *Source) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Extractor yields the records listed for each unit id. Records are
// strings; each envelope carries the record as its payload.
type Extractor struct {
	Records        map[string][]string
	FailUnit       map[string]error // error yielded after the unit's records
	ConfigureErrAt map[int]error    // keyed by 1-based Configure call number
	Log            *Log

	mu         sync.Mutex
	configured int
	current    string
	open       bool
	overlapped bool
}

func (e *Extractor) Configure(options map[string]any, pctx *ingestion.PipelineContext) error {
	e.mu.Lock()
	e.configured++
	if e.open {
		e.overlapped = true
	}
	n := e.configured
	e.mu.Unlock()
	if e.Log != nil {
		e.Log.Add("configure()")
	}
	return e.ConfigureErrAt[n]
}

func (e *Extractor) Extract(ctx context.Context, unit *ingestion.WorkUnit) iter.Seq2[*ingestion.RecordEnvelope, error] {
	return func(yield func(*ingestion.RecordEnvelope, error) bool) {
		e.mu.Lock()
		e.current = unit.ID
		e.open = true
		e.mu.Unlock()

		for _, r := range e.Records[unit.ID] {
			if !yield(ingestion.NewRecordEnvelope(unit.ID, r, nil), nil) {
				return
			}
		}
		if err := e.FailUnit[unit.ID]; err != nil {
			yield(nil, err)
		}
	}
}

func (e *Extractor) Close() error {
	e.mu.Lock()
	unit := e.current
	e.open = false
	e.mu.Unlock()
	if e.Log != nil {
		e.Log.Add("extractor_close(%s)", unit)
	}
	return nil
}

// Configured returns how many times Configure was called.
func (e *Extractor) Configured() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}

// Overlapped reports whether Configure was ever called while a unit was
// still open, i.e. before Close of the previous unit.
func (e *Extractor) Overlapped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlapped
}

// AckMode controls how a Sink acknowledges writes.
type AckMode int

const (
	// AckInline acknowledges inside WriteAsync.
	AckInline AckMode = iota
	// AckDelayed acknowledges from a goroutine after a random short delay.
	AckDelayed
	// AckNever accepts writes and never acknowledges them.
	AckNever
)

// Sink records hook calls and acknowledges writes according to Mode.
// Records listed in FailRecords are acknowledged as failures.
type Sink struct {
	Log          *Log
	Mode         AckMode
	FailRecords  map[string]bool
	UnitStartErr map[string]error
	UnitEndErr   map[string]error
	CloseErr     error
	DoubleAck    bool // acknowledge successes twice

	report   *ingestion.Report
	initOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   int
}

func (s *Sink) init() {
	s.initOnce.Do(func() {
		if s.report == nil {
			s.report = ingestion.NewReport("fake-sink")
		}
	})
}

func (s *Sink) OnUnitStart(ctx context.Context, unit *ingestion.WorkUnit) error {
	s.log("on_unit_start(%s)", unit.ID)
	return s.UnitStartErr[unit.ID]
}

func (s *Sink) WriteAsync(ctx context.Context, env *ingestion.RecordEnvelope, cb ingestion.WriteCallback) {
	s.init()
	s.log("write(%s,%v)", env.WorkUnitID, env.Record)
	s.report.AddRecords(1)

	ack := func() {
		if s.FailRecords[fmt.Sprint(env.Record)] {
			s.report.AddFailedWrite("write", "FAKE_FAILURE", fmt.Sprintf("record %v rejected", env.Record))
			cb.OnFailure(env, errors.Newf("record %v rejected", env.Record), map[string]any{"record": env.Record})
			return
		}
		s.report.AddWritten()
		cb.OnSuccess(env, map[string]any{"record": env.Record})
		if s.DoubleAck {
			cb.OnSuccess(env, nil)
		}
	}

	switch s.Mode {
	case AckInline:
		ack()
	case AckDelayed:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			ack()
		}()
	case AckNever:
	}
}

func (s *Sink) OnUnitEnd(ctx context.Context, unit *ingestion.WorkUnit) error {
	s.log("on_unit_end(%s)", unit.ID)
	return s.UnitEndErr[unit.ID]
}

func (s *Sink) Close(ctx context.Context) error {
	s.wg.Wait()
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.log("close()")
	return s.CloseErr
}

func (s *Sink) Report() *ingestion.Report {
	s.init()
	return s.report
}

// Closed returns how many times Close was called.
func (s *Sink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) log(format string, args ...any) {
	if s.Log != nil {
		s.Log.Add(format, args...)
	}
}

var (
	_ ingestion.Source    = (*Source)(nil)
	_ ingestion.Extractor = (*Extractor)(nil)
	_ ingestion.Sink      = (*Sink)(nil)
)
