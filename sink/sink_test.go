package sink

import (
	"context"
	"testing"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposal(t *testing.T) {
	p := metadata.NewUpsert("dataset", "urn:li:dataset:(urn:li:dataPlatform:hive,db.a,PROD)", "status", map[string]any{"removed": false})

	got, err := Proposal(ingestion.NewRecordEnvelope("u", p, nil))
	require.NoError(t, err)
	assert.Same(t, p, got)

	got, err = Proposal(ingestion.NewRecordEnvelope("u", *p, nil))
	require.NoError(t, err)
	assert.Equal(t, p.EntityURN, got.EntityURN)

	_, err = Proposal(ingestion.NewRecordEnvelope("u", "text", nil))
	assert.True(t, errors.IsInvalidRequestError(err))

	var nilProposal *metadata.ChangeProposal
	_, err = Proposal(ingestion.NewRecordEnvelope("u", nilProposal, nil))
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.NewInvalidRequestError("bad"), CodeInvalidRecord},
		{errors.Mark(errors.New("503"), errors.ErrServiceUnavailable), CodeServiceUnavailable},
		{errors.WithStack(errors.ErrPoolClosed), CodePoolClosed},
		{errors.Wrap(context.Canceled, "write not started"), CodeCancelled},
		{errors.New("disk full"), CodeWriteFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestReporting(t *testing.T) {
	report := ingestion.NewReport("test")
	var successes, failures int
	cb := Reporting(report, ingestion.WriteCallbackFuncs{
		Success: func(*ingestion.RecordEnvelope, map[string]any) { successes++ },
		Failure: func(*ingestion.RecordEnvelope, error, map[string]any) { failures++ },
	})

	env := ingestion.NewRecordEnvelope("unit-1", "r", nil)
	cb.OnSuccess(env, nil)
	cb.OnFailure(env, errors.WithHint(errors.New("timeout"), "raise timeout_sec"), nil)

	summary := report.Summary()
	assert.Equal(t, 1, summary.Stats.Written)
	assert.Equal(t, 1, summary.Stats.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, CodeWriteFailed, summary.Failures[0].Code)
	assert.Contains(t, summary.Failures[0].Message, "unit-1")
	assert.Equal(t, []string{"raise timeout_sec"}, summary.Failures[0].Hints)
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	assert.NotPanics(t, func() { Reporting(report, nil).OnSuccess(env, nil) })
}
