package display

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/history"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/pipeline"
	"github.com/pterm/pterm"
)

// PrintOutcome writes a human-readable run outcome: a headline, one table
// row per report and every recorded issue.
func PrintOutcome(w io.Writer, o *pipeline.Outcome) error {
	headline := fmt.Sprintf("Run %s %s in %s", o.RunID, o.State, o.Duration().Round(time.Millisecond))
	switch {
	case o.State == pipeline.StateFailed:
		fmt.Fprint(w, pterm.Error.Sprintln(headline))
		fmt.Fprintf(w, "  %s\n", pterm.Red(o.Error))
		for _, hint := range errors.GetAllHints(o.Err) {
			fmt.Fprintf(w, "  %s %s\n", pterm.Yellow("hint:"), hint)
		}
	case o.HasFailures():
		fmt.Fprint(w, pterm.Warning.Sprintln(headline+" with failures"))
	default:
		fmt.Fprint(w, pterm.Success.Sprintln(headline))
	}

	rows := [][]string{{"Report", "Work units", "Records", "Written", "Failed", "Warnings"}}
	for _, s := range []ingestion.Summary{o.Source, o.Sink, o.Pipeline} {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Stats.WorkUnits),
			strconv.Itoa(s.Stats.Records),
			strconv.Itoa(s.Stats.Written),
			strconv.Itoa(s.Stats.Failed),
			strconv.Itoa(len(s.Warnings)),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render outcome table")
	}
	fmt.Fprintf(w, "\n%s\n", table)

	fmt.Fprintf(w, "\nAcknowledged: %s ok, %s failed",
		pterm.Green(o.Writes.Succeeded), pterm.Red(o.Writes.Failed))
	if o.Writes.Duplicates > 0 {
		fmt.Fprintf(w, ", %s duplicate", pterm.Yellow(o.Writes.Duplicates))
	}
	if o.Writes.Unacknowledged > 0 {
		fmt.Fprintf(w, ", %s never acknowledged", pterm.Red(o.Writes.Unacknowledged))
	}
	fmt.Fprintln(w)
	if o.Memory != nil {
		fmt.Fprintf(w, "Memory: %.1f of %.1f GB in use (%.0f%%)\n", o.Memory.UsedGB, o.Memory.TotalGB, o.Memory.Percent)
	}

	for _, s := range []ingestion.Summary{o.Source, o.Sink, o.Pipeline} {
		printIssues(w, s)
	}
	return nil
}

func printIssues(w io.Writer, s ingestion.Summary) {
	if len(s.Failures) == 0 && len(s.Warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", pterm.LightCyan(s.Name+":"))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s %s\n", pterm.Red("✗"), f)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  %s %s\n", pterm.Yellow("!"), warn)
	}
}

// PrintRuns writes the run history as a table, newest first.
func PrintRuns(w io.Writer, runs []*history.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, pterm.Gray("No recorded runs"))
		return nil
	}
	rows := [][]string{{"Run", "State", "Source", "Sink", "Started", "Duration", "Units", "Written", "Failed"}}
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.RunID,
			r.State,
			r.SourceType,
			r.SinkType,
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			strconv.Itoa(r.WorkUnits),
			strconv.Itoa(r.Written),
			strconv.Itoa(r.Failed),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render run table")
	}
	fmt.Fprintln(w, table)
	return nil
}
