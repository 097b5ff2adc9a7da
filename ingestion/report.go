package ingestion

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Issue captures a warning or failure with optional hints.
type Issue struct {
	Stage   string   `json:"stage"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

func (i Issue) String() string {
	s := fmt.Sprintf("[%s] %s: %s", i.Stage, i.Code, i.Message)
	for _, h := range i.Hints {
		s += "\n    hint: " + h
	}
	return s
}

// Stats is the tally a report keeps.
type Stats struct {
	WorkUnits int `json:"work_units"`
	Records   int `json:"records"`
	Written   int `json:"written"`
	Failed    int `json:"failed"`
}

// Report is the running tally of one source, sink or of the orchestrator
// itself. It is append-only and safe for concurrent use, since sink
// callbacks may update it from worker goroutines.
type Report struct {
	name    string
	started time.Time

	mu       sync.Mutex
	stats    Stats
	warnings []Issue
	failures []Issue
}

// NewReport creates an empty report for the named plugin.
func NewReport(name string) *Report {
	return &Report{
		name:    name,
		started: time.Now(),
	}
}

// Name returns the report's plugin name.
func (r *Report) Name() string {
	return r.name
}

// AddWorkUnit counts one work unit.
func (r *Report) AddWorkUnit() {
	r.mu.Lock()
	r.stats.WorkUnits++
	r.mu.Unlock()
}

// AddRecords counts n records produced or received.
func (r *Report) AddRecords(n int) {
	r.mu.Lock()
	r.stats.Records += n
	r.mu.Unlock()
}

// AddWritten counts one successfully written record.
func (r *Report) AddWritten() {
	r.mu.Lock()
	r.stats.Written++
	r.mu.Unlock()
}

// AddFailedWrite counts one failed record and keeps the failure as an issue.
func (r *Report) AddFailedWrite(stage, code, message string, hints ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Failed++
	r.failures = append(r.failures, newIssue(stage, code, message, hints))
}

// AddWarning adds a warning issue to the report.
func (r *Report) AddWarning(stage, code, message string, hints ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, newIssue(stage, code, message, hints))
}

// AddFailure adds a failure issue that is not tied to a single record write.
func (r *Report) AddFailure(stage, code, message string, hints ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, newIssue(stage, code, message, hints))
}

func newIssue(stage, code, message string, hints []string) Issue {
	issue := Issue{Stage: stage, Code: code, Message: message}
	if len(hints) > 0 {
		issue.Hints = append([]string{}, hints...)
	}
	return issue
}

// Summary returns a snapshot of the report.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Name:       r.name,
		Stats:      r.stats,
		Warnings:   append([]Issue{}, r.warnings...),
		Failures:   append([]Issue{}, r.failures...),
		DurationMs: time.Since(r.started).Milliseconds(),
	}
}

func (r *Report) String() string {
	return r.Summary().String()
}

// Summary is a read-only copy of a report taken at one point in time.
type Summary struct {
	Name       string  `json:"name"`
	Stats      Stats   `json:"stats"`
	Warnings   []Issue `json:"warnings"`
	Failures   []Issue `json:"failures"`
	DurationMs int64   `json:"duration_ms"`
}

// HasFailures reports whether any failure was recorded.
func (s Summary) HasFailures() bool {
	return len(s.Failures) > 0 || s.Stats.Failed > 0
}

// HasWarnings reports whether any warning was recorded.
func (s Summary) HasWarnings() bool {
	return len(s.Warnings) > 0
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.Name)
	fmt.Fprintf(&b, "  work units: %d\n", s.Stats.WorkUnits)
	fmt.Fprintf(&b, "  records:    %d\n", s.Stats.Records)
	fmt.Fprintf(&b, "  written:    %d\n", s.Stats.Written)
	fmt.Fprintf(&b, "  failed:     %d\n", s.Stats.Failed)
	fmt.Fprintf(&b, "  duration:   %s\n", time.Duration(s.DurationMs)*time.Millisecond)
	if len(s.Warnings) > 0 {
		fmt.Fprintf(&b, "  warnings (%d):\n", len(s.Warnings))
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "    %s\n", w)
		}
	}
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "  failures (%d):\n", len(s.Failures))
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "    %s\n", f)
		}
	}
	return b.String()
}
