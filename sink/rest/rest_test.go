package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acks struct {
	mu       sync.Mutex
	success  int
	failures []error
}

func (a *acks) callback() ingestion.WriteCallback {
	return ingestion.WriteCallbackFuncs{
		Success: func(*ingestion.RecordEnvelope, map[string]any) {
			a.mu.Lock()
			a.success++
			a.mu.Unlock()
		},
		Failure: func(_ *ingestion.RecordEnvelope, err error, _ map[string]any) {
			a.mu.Lock()
			a.failures = append(a.failures, err)
			a.mu.Unlock()
		},
	}
}

func config(server string) map[string]any {
	return map[string]any{
		"server":         server,
		"workers":        3,
		"max_retries":    1,
		"retry_wait_min": "1ms",
		"retry_wait_max": "2ms",
	}
}

func TestRESTSinkWritesThroughPool(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Proposal metadata.ChangeProposal `json:"proposal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Proposal.AspectName == "reject" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, err := New(config(server.URL), ingestion.NewPipelineContext("1"))
	require.NoError(t, err)

	ctx := context.Background()
	a := &acks{}
	for i := 0; i < 10; i++ {
		p := metadata.NewUpsert("dataset", metadata.MakeDatasetURN("hive", "db.t", ""), "status", map[string]any{"i": i})
		s.WriteAsync(ctx, ingestion.NewRecordEnvelope("u1", p, nil), a.callback())
	}
	rejected := metadata.NewUpsert("dataset", metadata.MakeDatasetURN("hive", "db.t", ""), "reject", map[string]any{})
	s.WriteAsync(ctx, ingestion.NewRecordEnvelope("u1", rejected, nil), a.callback())
	s.WriteAsync(ctx, ingestion.NewRecordEnvelope("u1", 3.14, nil), a.callback())

	require.NoError(t, s.Close(ctx))

	assert.Equal(t, int32(10), received.Load())
	assert.Equal(t, 10, a.success)
	assert.Len(t, a.failures, 2)

	summary := s.Report().Summary()
	assert.Equal(t, 12, summary.Stats.Records)
	assert.Equal(t, 10, summary.Stats.Written)
	assert.Equal(t, 2, summary.Stats.Failed)

	stats := s.(*Sink).Stats()
	assert.Equal(t, int64(11), stats.Submitted)
	assert.Zero(t, stats.InFlight)
}

func TestRESTSinkWritesAfterCloseFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	s, err := New(config(server.URL), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	a := &acks{}
	p := metadata.NewUpsert("dataset", metadata.MakeDatasetURN("hive", "db.t", ""), "status", map[string]any{})
	s.WriteAsync(context.Background(), ingestion.NewRecordEnvelope("u1", p, nil), a.callback())
	require.Len(t, a.failures, 1)
}

func TestRESTSinkConnectionCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := config(server.URL)
	cfg["test_connection"] = true
	cfg["max_retries"] = 0
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRESTSinkOptions(t *testing.T) {
	_, err := New(map[string]any{}, nil)
	assert.Error(t, err, "server is required")

	_, err = New(map[string]any{"server": "http://localhost:8080", "workers": -1}, nil)
	assert.Error(t, err)

	_, err = New(map[string]any{"server": "http://localhost:8080", "retries": 2}, nil)
	assert.Error(t, err)
}
