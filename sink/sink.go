// Package sink holds helpers shared by the built-in sinks.
package sink

import (
	"context"
	"fmt"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/metadata"
)

// Issue codes recorded for failed writes.
const (
	CodeInvalidRecord      = "INVALID_RECORD"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodePoolClosed         = "POOL_CLOSED"
	CodeCancelled          = "CANCELLED"
	CodeWriteFailed        = "WRITE_FAILED"
)

// Proposal returns the change proposal carried by env.
func Proposal(env *ingestion.RecordEnvelope) (*metadata.ChangeProposal, error) {
	switch r := env.Record.(type) {
	case *metadata.ChangeProposal:
		if r == nil {
			return nil, errors.NewInvalidRequestError("record %s is a nil proposal", env.ID)
		}
		return r, nil
	case metadata.ChangeProposal:
		return &r, nil
	default:
		return nil, errors.NewInvalidRequestError("record %s has unsupported type %T", env.ID, env.Record)
	}
}

// ErrorCode classifies a write error for a report issue.
func ErrorCode(err error) string {
	switch {
	case errors.IsInvalidRequestError(err):
		return CodeInvalidRecord
	case errors.Is(err, errors.ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.Is(err, errors.ErrPoolClosed):
		return CodePoolClosed
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeWriteFailed
	}
}

// Reporting wraps cb so every acknowledgement is tallied in report before
// it is forwarded.
func Reporting(report *ingestion.Report, cb ingestion.WriteCallback) ingestion.WriteCallback {
	if cb == nil {
		cb = ingestion.NoopWriteCallback
	}
	return ingestion.WriteCallbackFuncs{
		Success: func(env *ingestion.RecordEnvelope, meta map[string]any) {
			report.AddWritten()
			cb.OnSuccess(env, meta)
		},
		Failure: func(env *ingestion.RecordEnvelope, err error, meta map[string]any) {
			report.AddFailedWrite("write", ErrorCode(err),
				fmt.Sprintf("record %s (unit %s): %v", env.ID, env.WorkUnitID, err),
				errors.GetAllHints(err)...)
			cb.OnFailure(env, err, meta)
		},
	}
}
