// Package display renders run progress, outcomes and run history for the
// terminal, as pterm-styled text or as JSON.
package display

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/pulse"
	"github.com/pterm/pterm"
)

// CLIEmitter prints progress to a terminal using pterm.
type CLIEmitter struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity int
}

// NewCLIEmitter creates a CLI progress emitter. Per-unit progress and info
// messages are only shown at -v and above.
func NewCLIEmitter(w io.Writer, verbosity int) *CLIEmitter {
	return &CLIEmitter{w: w, verbosity: verbosity}
}

func (e *CLIEmitter) print(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprint(e.w, s)
}

// EmitStage prints a stage announcement
func (e *CLIEmitter) EmitStage(stage string, message string) {
	e.print(fmt.Sprintf("🔄 %s: %s\n", pterm.LightCyan(stage), message))
}

// EmitProgress prints the number of units processed so far
func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	if e.verbosity < logger.VerbosityInfo {
		return
	}
	if unit, ok := metadata["unit"].(string); ok {
		e.print(fmt.Sprintf("✅ Processed %s units %s\n", pterm.Green(count), pterm.Gray("("+unit+")")))
		return
	}
	e.print(fmt.Sprintf("✅ Processed %s units\n", pterm.Green(count)))
}

// EmitComplete prints the completion summary
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	s := pterm.Success.Sprintln("Ingestion complete!")
	if e.verbosity >= logger.VerbosityInfo {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s += fmt.Sprintf("  %s: %v\n", k, summary[k])
		}
	}
	e.print(s)
}

func (e *CLIEmitter) EmitError(stage string, err error) {
	e.print(pterm.Error.Sprintf("Error in %s: %v\n", stage, err))
}

func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= logger.VerbosityInfo {
		e.print(pterm.Info.Sprintln(message))
	}
}

var _ pulse.ProgressEmitter = (*CLIEmitter)(nil)
