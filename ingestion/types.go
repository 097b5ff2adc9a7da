// Package ingestion defines the contracts between the pipeline orchestrator
// and its plugins: work units, record envelopes, write callbacks, the
// Source/Extractor/Sink capability sets, the shared run context and the
// reports both ends keep.
package ingestion

import (
	"github.com/google/uuid"
)

// WorkUnit is a source-defined granule of extraction (one table, one commit,
// one file entry). The orchestrator reads only ID; Payload belongs to the
// source and the extractor that understands it.
type WorkUnit struct {
	ID      string
	Payload any
}

// NewWorkUnit creates a work unit with the given id and payload.
func NewWorkUnit(id string, payload any) *WorkUnit {
	return &WorkUnit{ID: id, Payload: payload}
}

// RecordEnvelope wraps one extracted record with its provenance. Ownership
// passes to the sink on WriteAsync.
type RecordEnvelope struct {
	ID         string
	Record     any
	WorkUnitID string
	Metadata   map[string]any
}

// NewRecordEnvelope wraps record for the given work unit. The envelope gets
// a fresh ID; meta is copied.
func NewRecordEnvelope(unitID string, record any, meta map[string]any) *RecordEnvelope {
	var copied map[string]any
	if len(meta) > 0 {
		copied = make(map[string]any, len(meta))
		for k, v := range meta {
			copied[k] = v
		}
	}
	return &RecordEnvelope{
		ID:         uuid.NewString(),
		Record:     record,
		WorkUnitID: unitID,
		Metadata:   copied,
	}
}
