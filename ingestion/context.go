package ingestion

import (
	"sort"
	"sync"
)

// PipelineContext is shared by every plugin of one run. RunID is fixed at
// construction; plugins may attach their own handles under their own keys.
type PipelineContext struct {
	runID string

	mu       sync.RWMutex
	attached map[string]any
}

// NewPipelineContext creates the context for one run.
func NewPipelineContext(runID string) *PipelineContext {
	return &PipelineContext{
		runID:    runID,
		attached: make(map[string]any),
	}
}

// RunID returns the run identifier.
func (c *PipelineContext) RunID() string {
	return c.runID
}

// Set attaches a shared value under key, replacing any previous value.
func (c *PipelineContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[key] = value
}

// Get returns the value attached under key.
func (c *PipelineContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attached[key]
	return v, ok
}

// Keys returns the attached keys in sorted order.
func (c *PipelineContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.attached))
	for k := range c.attached {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
