package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func proposal() *metadata.ChangeProposal {
	return metadata.NewUpsert("dataset", metadata.MakeDatasetURN("hive", "db.events", ""), "status", map[string]any{"removed": false})
}

func restOptions(t *testing.T, server string) Options {
	opts := DefaultOptions()
	opts.Server = server
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 2 * time.Millisecond
	opts.Logger = zaptest.NewLogger(t).Sugar()
	return opts
}

func TestParseTransport(t *testing.T) {
	tr, err := ParseTransport(" REST ")
	require.NoError(t, err)
	assert.Equal(t, TransportREST, tr)

	tr, err = ParseTransport("stream")
	require.NoError(t, err)
	assert.Equal(t, TransportStream, tr)

	_, err = ParseTransport("kafka")
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = New(Transport("kafka"), Options{})
	assert.Error(t, err)
}

func TestRESTEmitterPostsProposal(t *testing.T) {
	var got struct {
		Proposal metadata.ChangeProposal `json:"proposal"`
	}
	var headers http.Header
	var path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		path = r.URL.RequestURI()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	opts := restOptions(t, server.URL+"/")
	opts.Token = "secret"
	e, err := New(TransportREST, opts)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, TransportREST, e.Transport())

	meta, err := e.Emit(context.Background(), proposal())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, meta["status"])

	assert.Equal(t, "/aspects?action=ingestProposal", path)
	assert.Equal(t, "2.0.0", headers.Get("X-RestLi-Protocol-Version"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "status", got.Proposal.AspectName)
	assert.Equal(t, metadata.ChangeUpsert, got.Proposal.ChangeType)
}

func TestRESTEmitterRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e, err := New(TransportREST, restOptions(t, server.URL))
	require.NoError(t, err)

	_, err = e.Emit(context.Background(), proposal())
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRESTEmitterGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := restOptions(t, server.URL)
	opts.MaxRetries = 2
	e, err := New(TransportREST, opts)
	require.NoError(t, err)

	meta, err := e.Emit(context.Background(), proposal())
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, http.StatusInternalServerError, meta["status"])
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	assert.Contains(t, errors.FlattenDetails(err), "overloaded")
}

func TestRESTEmitterDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"message": "bad aspect"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	e, err := New(TransportREST, restOptions(t, server.URL))
	require.NoError(t, err)

	_, err = e.Emit(context.Background(), proposal())
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "422")
}

func TestRESTEmitterRejectsInvalidProposalWithoutRequest(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer server.Close()

	e, err := New(TransportREST, restOptions(t, server.URL))
	require.NoError(t, err)

	_, err = e.Emit(context.Background(), &metadata.ChangeProposal{EntityURN: "nope"})
	require.Error(t, err)
	assert.Zero(t, attempts.Load())
}

func TestRESTEmitterRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	opts := restOptions(t, server.URL)
	opts.RequestsPerSecond = 20
	e, err := New(TransportREST, opts)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 30; i++ {
		_, err := e.Emit(context.Background(), proposal())
		require.NoError(t, err)
	}
	// burst of 20, then 10 more at 20/s
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestRESTEmitterTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/config" {
			_, _ = w.Write([]byte(`{"noCode": "true"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e, err := newREST(restOptions(t, server.URL))
	require.NoError(t, err)
	assert.NoError(t, e.TestConnection(context.Background()))

	e, err = newREST(restOptions(t, server.URL+"/missing"))
	require.NoError(t, err)
	assert.Error(t, e.TestConnection(context.Background()))
}

func TestRESTEmitterRequiresServer(t *testing.T) {
	_, err := New(TransportREST, Options{})
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "server")

	_, err = New(TransportREST, Options{Server: "localhost"})
	assert.Error(t, err)
}

func TestStreamEmitter(t *testing.T) {
	var buf bytes.Buffer
	e, err := New(TransportStream, Options{Writer: &buf})
	require.NoError(t, err)
	assert.Equal(t, TransportStream, e.Transport())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Emit(context.Background(), proposal())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, e.Close())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 10)
	for _, line := range lines {
		var p metadata.ChangeProposal
		require.NoError(t, json.Unmarshal(line, &p))
		assert.Equal(t, "status", p.AspectName)
	}

	_, err = e.Emit(context.Background(), &metadata.ChangeProposal{})
	assert.Error(t, err)
}
