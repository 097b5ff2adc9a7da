// Package rest provides the "datahub-rest" sink, which posts proposals to a
// metadata service from a bounded pool of concurrent writers.
package rest

import (
	"context"
	"time"

	"github.com/divyamanohar-stripe/datahub/emitter"
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/pulse/async"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/divyamanohar-stripe/datahub/sink"
	"go.uber.org/zap"
)

// Metadata describes the REST sink.
var Metadata = plugin.Metadata{
	Name:        "datahub-rest",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Post change proposals to a metadata service REST endpoint",
}

const connectionCheckTimeout = 10 * time.Second

// Options configures the REST sink.
type Options struct {
	Server            string            `mapstructure:"server"`
	Token             string            `mapstructure:"token"`
	TimeoutSec        int               `mapstructure:"timeout_sec"`
	MaxRetries        *int              `mapstructure:"max_retries"`
	RetryWaitMin      time.Duration     `mapstructure:"retry_wait_min"`
	RetryWaitMax      time.Duration     `mapstructure:"retry_wait_max"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Workers           int               `mapstructure:"workers"`
	TestConnection    bool              `mapstructure:"test_connection"`
	ExtraHeaders      map[string]string `mapstructure:"extra_headers"`
}

type connectionTester interface {
	TestConnection(ctx context.Context) error
}

// Sink emits proposals on pool workers; WriteAsync returns once a worker
// has taken the write and blocks while all of them are busy.
type Sink struct {
	emitter emitter.Emitter
	pool    *async.WritePool
	report  *ingestion.Report
	logger  *zap.SugaredLogger
}

// New is the plugin factory.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.TimeoutSec < 0 || opts.Workers < 0 || opts.RequestsPerSecond < 0 {
		return nil, errors.New("timeout_sec, workers and requests_per_second must not be negative")
	}

	log := logger.ComponentLogger("sink.rest")
	if pctx != nil {
		log = log.With(logger.FieldRunID, pctx.RunID())
	}

	eo := emitter.DefaultOptions()
	eo.Server = opts.Server
	eo.Token = opts.Token
	eo.ExtraHeaders = opts.ExtraHeaders
	eo.RequestsPerSecond = opts.RequestsPerSecond
	eo.Logger = log
	if opts.TimeoutSec > 0 {
		eo.Timeout = time.Duration(opts.TimeoutSec) * time.Second
	}
	if opts.MaxRetries != nil {
		eo.MaxRetries = *opts.MaxRetries
	}
	if opts.RetryWaitMin > 0 {
		eo.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		eo.RetryWaitMax = opts.RetryWaitMax
	}
	em, err := emitter.New(emitter.TransportREST, eo)
	if err != nil {
		return nil, err
	}

	if opts.TestConnection {
		if tester, ok := em.(connectionTester); ok {
			ctx, cancel := context.WithTimeout(context.Background(), connectionCheckTimeout)
			defer cancel()
			if err := tester.TestConnection(ctx); err != nil {
				return nil, err
			}
		}
	}

	poolCfg := async.DefaultWritePoolConfig()
	poolCfg.Name = Metadata.Name
	if opts.Workers > 0 {
		poolCfg.Workers = opts.Workers
	}

	log.Infow("Emitting to metadata service",
		logger.FieldURL, opts.Server,
		logger.FieldWorkers, poolCfg.Workers)

	return &Sink{
		emitter: em,
		pool:    async.NewWritePool(poolCfg, log),
		report:  ingestion.NewReport(Metadata.Name),
		logger:  log,
	}, nil
}

func (s *Sink) Report() *ingestion.Report { return s.report }

func (s *Sink) OnUnitStart(ctx context.Context, unit *ingestion.WorkUnit) error { return nil }

func (s *Sink) OnUnitEnd(ctx context.Context, unit *ingestion.WorkUnit) error { return nil }

func (s *Sink) WriteAsync(ctx context.Context, env *ingestion.RecordEnvelope, cb ingestion.WriteCallback) {
	s.report.AddRecords(1)
	ack := sink.Reporting(s.report, cb)

	p, err := sink.Proposal(env)
	if err != nil {
		ack.OnFailure(env, err, nil)
		return
	}
	s.pool.Submit(ctx, env, ack, func(ctx context.Context) (map[string]any, error) {
		return s.emitter.Emit(ctx, p)
	})
}

// Close waits for every in-flight write to be acknowledged.
func (s *Sink) Close(ctx context.Context) error {
	s.pool.Drain()
	stats := s.pool.Stats()
	s.logger.Infow("REST sink closed",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)
	return s.emitter.Close()
}

// Stats exposes the write pool counters.
func (s *Sink) Stats() async.PoolStats {
	return s.pool.Stats()
}
