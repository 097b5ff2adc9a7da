package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/pulse/async"
)

// Outcome is the result of one run: the final state, a snapshot of every
// report and the fatal error, if any.
type Outcome struct {
	RunID      string             `json:"run_id"`
	SourceType string             `json:"source_type"`
	SinkType   string             `json:"sink_type"`
	State      State              `json:"state"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Source     ingestion.Summary  `json:"source"`
	Sink       ingestion.Summary  `json:"sink"`
	Pipeline   ingestion.Summary  `json:"pipeline"`
	Writes     WriteStats         `json:"writes"`
	Memory     *async.MemoryStats `json:"memory,omitempty"`
	Error      string             `json:"error,omitempty"`

	// Err is the run-fatal error; nil for completed runs.
	Err error `json:"-"`
}

// Duration is the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// HasFailures reports whether any report recorded a failure.
func (o *Outcome) HasFailures() bool {
	return o.Source.HasFailures() || o.Sink.HasFailures() || o.Pipeline.HasFailures()
}

// HasWarnings reports whether any report recorded a warning.
func (o *Outcome) HasWarnings() bool {
	return o.Source.HasWarnings() || o.Sink.HasWarnings() || o.Pipeline.HasWarnings()
}

// RaiseFromStatus turns the outcome into an error for callers that treat a
// lossy run as a failed one. It returns the fatal error of a failed run,
// otherwise an error if any report holds failures, or warnings when
// warningsAsFailures is set.
func (o *Outcome) RaiseFromStatus(warningsAsFailures bool) error {
	if o.Err != nil {
		return o.Err
	}
	if o.State == StateFailed {
		return errors.Mark(errors.Newf("run %s failed: %s", o.RunID, o.Error), errors.ErrRunFailed)
	}

	var parts []string
	for _, s := range []ingestion.Summary{o.Source, o.Sink, o.Pipeline} {
		if s.HasFailures() {
			parts = append(parts, fmt.Sprintf("%s reported %d failure(s)", s.Name, max(len(s.Failures), s.Stats.Failed)))
		}
	}
	if len(parts) > 0 {
		return errors.WithHint(
			errors.Newf("run %s: %s", o.RunID, strings.Join(parts, ", ")),
			"the run completed; failed records are listed in the reports",
		)
	}

	if warningsAsFailures && o.HasWarnings() {
		n := len(o.Source.Warnings) + len(o.Sink.Warnings) + len(o.Pipeline.Warnings)
		return errors.Newf("run %s: %d warning(s) treated as failures", o.RunID, n)
	}
	return nil
}

func (o *Outcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s %s in %s\n", o.RunID, o.State, o.Duration().Round(time.Millisecond))
	if o.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", o.Error)
	}
	fmt.Fprintf(&b, "\nSource:\n%s", indent(o.Source.String()))
	fmt.Fprintf(&b, "\nSink:\n%s", indent(o.Sink.String()))
	fmt.Fprintf(&b, "\nPipeline:\n")
	fmt.Fprintf(&b, "  work units: %d\n", o.Pipeline.Stats.WorkUnits)
	fmt.Fprintf(&b, "  records:    %d\n", o.Pipeline.Stats.Records)
	fmt.Fprintf(&b, "  acked:      %d ok, %d failed\n", o.Writes.Succeeded, o.Writes.Failed)
	if o.Writes.Duplicates > 0 {
		fmt.Fprintf(&b, "  duplicates: %d\n", o.Writes.Duplicates)
	}
	if o.Writes.Unacknowledged > 0 {
		fmt.Fprintf(&b, "  unacked:    %d\n", o.Writes.Unacknowledged)
	}
	for _, w := range o.Pipeline.Warnings {
		fmt.Fprintf(&b, "  warning %s\n", w)
	}
	for _, f := range o.Pipeline.Failures {
		fmt.Fprintf(&b, "  failure %s\n", f)
	}
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
