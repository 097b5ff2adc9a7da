package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"go.uber.org/zap"
)

// WriteStats counts the acknowledgements the orchestrator observed.
type WriteStats struct {
	Submitted      int `json:"submitted"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Duplicates     int `json:"duplicates"`
	Unacknowledged int `json:"unacknowledged"`
}

// tracker hands out one callback per submitted envelope. Each callback logs
// its outcome, forwards nothing and never panics. The first acknowledgement
// of an envelope counts; later ones are recorded as duplicates.
type tracker struct {
	logger *zap.SugaredLogger
	report *ingestion.Report

	mu      sync.Mutex
	stats   WriteStats
	pending map[*trackedWrite]struct{}
	closed  bool
}

func newTracker(log *zap.SugaredLogger, report *ingestion.Report) *tracker {
	return &tracker{
		logger:  log,
		report:  report,
		pending: make(map[*trackedWrite]struct{}),
	}
}

type trackedWrite struct {
	t     *tracker
	env   *ingestion.RecordEnvelope
	acked bool // guarded by t.mu
}

func (t *tracker) track(env *ingestion.RecordEnvelope) ingestion.WriteCallback {
	w := &trackedWrite{t: t, env: env}
	t.mu.Lock()
	t.stats.Submitted++
	t.pending[w] = struct{}{}
	t.mu.Unlock()
	return w
}

func (w *trackedWrite) OnSuccess(env *ingestion.RecordEnvelope, meta map[string]any) {
	if !w.t.acknowledge(w, "success") {
		return
	}
	w.t.logger.Debugw("Record written",
		logger.FieldRecordID, w.env.ID,
		logger.FieldWorkUnit, w.env.WorkUnitID)
}

func (w *trackedWrite) OnFailure(env *ingestion.RecordEnvelope, err error, meta map[string]any) {
	if !w.t.acknowledge(w, "failure") {
		return
	}
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	w.t.logger.Errorw("Record write failed",
		logger.FieldRecordID, w.env.ID,
		logger.FieldWorkUnit, w.env.WorkUnitID,
		logger.FieldError, msg)
}

// acknowledge records the first acknowledgement of w and reports whether
// this was it.
func (t *tracker) acknowledge(w *trackedWrite, outcome string) bool {
	t.mu.Lock()
	if w.acked {
		t.stats.Duplicates++
		t.mu.Unlock()
		t.logger.Warnw("Duplicate write acknowledgement ignored",
			logger.FieldRecordID, w.env.ID,
			logger.FieldWorkUnit, w.env.WorkUnitID,
			logger.FieldStatus, outcome)
		t.report.AddWarning("write", "DUPLICATE_ACK",
			fmt.Sprintf("record %s (unit %s) acknowledged more than once", w.env.ID, w.env.WorkUnitID),
			"the sink invoked its write callback twice for one record")
		return false
	}
	w.acked = true
	delete(t.pending, w)
	if outcome == "success" {
		t.stats.Succeeded++
	} else {
		t.stats.Failed++
	}
	late := t.closed
	t.mu.Unlock()

	if late {
		t.logger.Warnw("Write acknowledged after sink close",
			logger.FieldRecordID, w.env.ID,
			logger.FieldStatus, outcome)
	}
	return true
}

// seal marks the sink closed and returns the ids of envelopes that were
// never acknowledged, sorted.
func (t *tracker) seal() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	ids := make([]string, 0, len(t.pending))
	for w := range t.pending {
		ids = append(ids, w.env.ID)
	}
	sort.Strings(ids)
	t.stats.Unacknowledged = len(ids)
	return ids
}

func (t *tracker) snapshot() WriteStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
