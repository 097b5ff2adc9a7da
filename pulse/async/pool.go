// Package async provides the bounded write pool that asynchronous sinks use
// to implement WriteAsync.
//
// Submit blocks while every worker is busy, which is how a sink applies
// backpressure to the orchestrator. Every submitted write's callback fires
// exactly once, and Drain does not return until all of them have.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WriteFunc performs one write on a worker and returns metadata for the
// success callback.
type WriteFunc func(ctx context.Context) (map[string]any, error)

// WritePoolConfig contains configuration for the write pool
type WritePoolConfig struct {
	Name    string `json:"name"`    // Used in logs
	Workers int    `json:"workers"` // Concurrent writes; values < 1 mean 1
}

// DefaultWritePoolConfig returns sensible defaults
func DefaultWritePoolConfig() WritePoolConfig {
	return WritePoolConfig{
		Name:    "writes",
		Workers: 4,
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
}

// poolLogger distinguishes pool lifecycle events from per-write logs.
type poolLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event
func (l poolLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

// Closing logs a closing event
func (l poolLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WritePool runs writes on a bounded set of goroutines.
type WritePool struct {
	cfg    WritePoolConfig
	group  errgroup.Group
	logger poolLogger

	// closeMu orders Submit against Drain so no write starts after Drain
	// has begun waiting.
	closeMu sync.RWMutex
	closed  bool

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// NewWritePool creates a pool. A nil logger uses the "pulse.writes"
// component logger.
func NewWritePool(cfg WritePoolConfig, log *zap.SugaredLogger) *WritePool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Name == "" {
		cfg.Name = DefaultWritePoolConfig().Name
	}
	if log == nil {
		log = logger.ComponentLogger("pulse.writes")
	}

	p := &WritePool{
		cfg:    cfg,
		logger: poolLogger{log.With("pool", cfg.Name)},
	}
	p.group.SetLimit(cfg.Workers)
	p.logger.Starting("Write pool opened", logger.FieldWorkers, cfg.Workers)
	return p
}

// Submit schedules fn for env and returns once a worker has accepted it.
// It blocks while all workers are busy. The callback fires exactly once:
// OnSuccess with fn's metadata, or OnFailure with fn's error, a recovered
// panic, ctx's error, or ErrPoolClosed after Drain.
func (p *WritePool) Submit(ctx context.Context, env *ingestion.RecordEnvelope, cb ingestion.WriteCallback, fn WriteFunc) {
	if cb == nil {
		cb = ingestion.NoopWriteCallback
	}
	p.submitted.Add(1)
	ack := newOnceCallback(cb, p)

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		ack.failure(env, errors.WithStack(errors.ErrPoolClosed), nil)
		return
	}
	if err := ctx.Err(); err != nil {
		ack.failure(env, errors.Wrap(err, "write not started"), nil)
		return
	}

	p.inFlight.Add(1)
	p.group.Go(func() error {
		defer p.inFlight.Add(-1)
		meta, err := p.run(ctx, fn)
		if err != nil {
			ack.failure(env, err, meta)
		} else {
			ack.success(env, meta)
		}
		// errors travel through callbacks; the group never cancels
		return nil
	})
}

func (p *WritePool) run(ctx context.Context, fn WriteFunc) (meta map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			meta = nil
			err = errors.Newf("write panicked: %v", r)
			p.logger.Errorw("Recovered panic in write", logger.FieldError, fmt.Sprint(r))
		}
	}()
	return fn(ctx)
}

// Drain stops accepting writes and waits for every accepted write to be
// acknowledged. Safe to call more than once.
func (p *WritePool) Drain() {
	p.closeMu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.closeMu.Unlock()

	_ = p.group.Wait()
	if !alreadyClosed {
		stats := p.Stats()
		p.logger.Closing("Write pool drained",
			"submitted", stats.Submitted,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *WritePool) Stats() PoolStats {
	return PoolStats{
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// Workers returns the configured concurrency.
func (p *WritePool) Workers() int {
	return p.cfg.Workers
}

// onceCallback forwards at most one acknowledgement and shields the pool
// from panicking callbacks.
type onceCallback struct {
	cb   ingestion.WriteCallback
	pool *WritePool
	once sync.Once
}

func newOnceCallback(cb ingestion.WriteCallback, pool *WritePool) *onceCallback {
	return &onceCallback{cb: cb, pool: pool}
}

func (o *onceCallback) success(env *ingestion.RecordEnvelope, meta map[string]any) {
	o.once.Do(func() {
		o.pool.succeeded.Add(1)
		o.invoke(func() { o.cb.OnSuccess(env, meta) })
	})
}

func (o *onceCallback) failure(env *ingestion.RecordEnvelope, err error, meta map[string]any) {
	o.once.Do(func() {
		o.pool.failed.Add(1)
		o.invoke(func() { o.cb.OnFailure(env, err, meta) })
	})
}

func (o *onceCallback) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			o.pool.logger.Errorw("Write callback panicked", logger.FieldError, fmt.Sprint(r))
		}
	}()
	f()
}
