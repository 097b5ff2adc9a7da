package ingestion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportConcurrentUpdates(t *testing.T) {
	r := NewReport("sink")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AddRecords(1)
			if i%10 == 0 {
				r.AddFailedWrite("write", "WRITE_FAILED", "boom")
				return
			}
			r.AddWritten()
		}(i)
	}
	wg.Wait()

	s := r.Summary()
	assert.Equal(t, 50, s.Stats.Records)
	assert.Equal(t, 45, s.Stats.Written)
	assert.Equal(t, 5, s.Stats.Failed)
	assert.Len(t, s.Failures, 5)
	assert.True(t, s.HasFailures())
	assert.False(t, s.HasWarnings())
}

func TestSummaryIsSnapshot(t *testing.T) {
	r := NewReport("source")
	r.AddWorkUnit()
	r.AddWarning("iterate", "EMPTY_ENTRY", "entry 3 was empty", "remove blank lines")

	s := r.Summary()
	r.AddWorkUnit()
	r.AddWarning("iterate", "EMPTY_ENTRY", "entry 4 was empty")

	assert.Equal(t, 1, s.Stats.WorkUnits)
	require.Len(t, s.Warnings, 1)
	assert.Equal(t, []string{"remove blank lines"}, s.Warnings[0].Hints)
	assert.Equal(t, 2, r.Summary().Stats.WorkUnits)
}

func TestSummaryString(t *testing.T) {
	r := NewReport("file")
	r.AddWorkUnit()
	r.AddRecords(2)
	r.AddWritten()
	r.AddFailedWrite("write", "WRITE_FAILED", "disk full", "free some space")

	out := r.String()
	assert.Contains(t, out, "file\n")
	assert.Contains(t, out, "work units: 1")
	assert.Contains(t, out, "records:    2")
	assert.Contains(t, out, "failed:     1")
	assert.Contains(t, out, "[write] WRITE_FAILED: disk full")
	assert.Contains(t, out, "hint: free some space")
}

func TestEmptySummaryHasNoIssues(t *testing.T) {
	s := NewReport("console").Summary()
	assert.False(t, s.HasFailures())
	assert.False(t, s.HasWarnings())
	assert.Equal(t, Stats{}, s.Stats)
}
