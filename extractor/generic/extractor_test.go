package generic

import (
	"context"
	"testing"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsert(name string) *metadata.ChangeProposal {
	return metadata.NewUpsert("dataset", metadata.MakeDatasetURN("hive", name, ""), "status", map[string]any{"removed": false})
}

func drain(t *testing.T, e ingestion.Extractor, unit *ingestion.WorkUnit) ([]*ingestion.RecordEnvelope, error) {
	t.Helper()
	var out []*ingestion.RecordEnvelope
	for env, err := range e.Extract(context.Background(), unit) {
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	return out, nil
}

func TestExtractSingleProposal(t *testing.T) {
	e := New()
	require.NoError(t, e.Configure(nil, ingestion.NewPipelineContext("run-1")))

	p := upsert("db.a")
	envs, err := drain(t, e, ingestion.NewWorkUnit("u1", p))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Same(t, p, envs[0].Record)
	assert.Equal(t, "u1", envs[0].WorkUnitID)
	assert.Equal(t, "run-1", envs[0].Metadata["run_id"])
	assert.NoError(t, e.Close())
}

func TestExtractPreservesOrder(t *testing.T) {
	e := New()
	require.NoError(t, e.Configure(nil, nil))

	batch := []*metadata.ChangeProposal{upsert("db.a"), upsert("db.b"), upsert("db.c")}
	envs, err := drain(t, e, ingestion.NewWorkUnit("u1", batch))
	require.NoError(t, err)
	require.Len(t, envs, 3)
	for i := range batch {
		assert.Same(t, batch[i], envs[i].Record)
		assert.Equal(t, i, envs[i].Metadata["index"])
	}
}

func TestExtractFailsAfterValidPrefix(t *testing.T) {
	e := New()
	require.NoError(t, e.Configure(nil, nil))

	batch := []*metadata.ChangeProposal{upsert("db.a"), {EntityType: "dataset"}, upsert("db.c")}
	envs, err := drain(t, e, ingestion.NewWorkUnit("u1", batch))
	require.Error(t, err)
	assert.Len(t, envs, 1)
	assert.Contains(t, err.Error(), "proposal 1")
}

func TestExtractSkipInvalid(t *testing.T) {
	e := New().(*WorkUnitMCEExtractor)
	require.NoError(t, e.Configure(map[string]any{"skip_invalid": true}, nil))

	batch := []*metadata.ChangeProposal{upsert("db.a"), {EntityType: "dataset"}, upsert("db.c")}
	envs, err := drain(t, e, ingestion.NewWorkUnit("u1", batch))
	require.NoError(t, err)
	assert.Len(t, envs, 2)
	assert.Equal(t, 1, e.Skipped())

	require.NoError(t, e.Configure(nil, nil))
	assert.Zero(t, e.Skipped(), "configure resets per-unit state")
}

func TestExtractRejectsUnknownPayload(t *testing.T) {
	e := New()
	require.NoError(t, e.Configure(nil, nil))

	_, err := drain(t, e, ingestion.NewWorkUnit("u1", "not a proposal"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = drain(t, e, ingestion.NewWorkUnit("u2", nil))
	assert.Error(t, err)
}

func TestConfigureRejectsUnknownOptions(t *testing.T) {
	assert.Error(t, New().Configure(map[string]any{"skip_invalidd": true}, nil))
}

func TestExtractStopsWhenConsumerStops(t *testing.T) {
	e := New()
	require.NoError(t, e.Configure(nil, nil))

	batch := []*metadata.ChangeProposal{upsert("db.a"), upsert("db.b")}
	n := 0
	for range e.Extract(context.Background(), ingestion.NewWorkUnit("u1", batch)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}
