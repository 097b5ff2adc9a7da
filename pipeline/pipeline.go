// Package pipeline drives one ingestion run: it resolves a source and a sink
// from a recipe, feeds every work unit of the source through an extractor
// into the sink, and reports the outcome.
package pipeline

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/pulse"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"go.uber.org/zap"
)

// State is a pipeline's lifecycle position.
type State int32

const (
	StateConstructed State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON outcomes.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	logger           *zap.SugaredLogger
	clock            func() time.Time
	progress         pulse.ProgressEmitter
	extractorOptions map[string]any
}

// WithLogger sets the base logger. The run id is added to it.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, which also derives the default run id.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithProgress sends stage, unit and completion events to p.
func WithProgress(p pulse.ProgressEmitter) Option {
	return func(o *options) { o.progress = p }
}

// WithExtractorOptions sets the options passed to Extractor.Configure
// before every unit.
func WithExtractorOptions(opts map[string]any) Option {
	return func(o *options) { o.extractorOptions = opts }
}

// Pipeline is one constructed run. Run may be called once.
type Pipeline struct {
	recipe       *recipe.Recipe
	pctx         *ingestion.PipelineContext
	source       ingestion.Source
	sink         ingestion.Sink
	newExtractor plugin.ExtractorFactory

	extractorOptions map[string]any
	logger           *zap.SugaredLogger
	clock            func() time.Time
	progress         pulse.ProgressEmitter

	// report holds what the orchestrator itself observed; plugin reports
	// are only read.
	report *ingestion.Report

	state     atomic.Int32
	started   atomic.Bool
	closeOnce sync.Once
}

// NewFromMap decodes raw as a recipe and constructs a pipeline from it.
func NewFromMap(raw map[string]any, registry *plugin.Registry, opts ...Option) (*Pipeline, error) {
	rc, err := recipe.FromMap(raw)
	if err != nil {
		return nil, err
	}
	return New(rc, registry, opts...)
}

// New validates rc, resolves its source, sink and extractor against
// registry and returns a pipeline in StateConstructed. Every name is
// checked before any plugin is built; on error nothing is left open.
func New(rc *recipe.Recipe, registry *plugin.Registry, opts ...Option) (*Pipeline, error) {
	if rc == nil {
		return nil, errors.NewConfigurationError(errors.KindRecipe, "", "recipe is nil")
	}
	if registry == nil {
		return nil, errors.AssertionFailedf("pipeline constructed without a plugin registry")
	}

	o := options{
		clock:    time.Now,
		progress: pulse.NopEmitter{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := *rc
	if cfg.Source.Extractor == "" {
		cfg.Source.Extractor = recipe.DefaultExtractor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := cfg.RunID
	if runID == "" {
		runID = DefaultRunID(o.clock())
		cfg.RunID = runID
	}

	base := o.logger
	if base == nil {
		base = logger.ComponentLogger("pipeline")
	}
	log := base.With(logger.FieldRunID, runID)

	pctx := ingestion.NewPipelineContext(runID)
	resolved, err := registry.Resolve(&cfg, pctx)
	if err != nil {
		log.Debugw("Pipeline construction failed", logger.FieldError, err.Error())
		return nil, err
	}

	log.Infow("Pipeline constructed",
		"source", cfg.Source.Type,
		"sink", cfg.Sink.Type,
		logger.FieldExtractor, cfg.Source.Extractor)

	p := &Pipeline{
		recipe:           &cfg,
		pctx:             pctx,
		source:           resolved.Source,
		sink:             resolved.Sink,
		newExtractor:     resolved.NewExtractor,
		extractorOptions: o.extractorOptions,
		logger:           log,
		clock:            o.clock,
		progress:         o.progress,
		report:           ingestion.NewReport("pipeline"),
	}
	p.state.Store(int32(StateConstructed))
	return p, nil
}

// DefaultRunID derives a run id from t as milliseconds since the epoch.
func DefaultRunID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() string {
	return p.pctx.RunID()
}

// Context returns the run context shared with the plugins.
func (p *Pipeline) Context() *ingestion.PipelineContext {
	return p.pctx
}

// Recipe returns the recipe the pipeline was built from, with defaults
// and the run id filled in.
func (p *Pipeline) Recipe() *recipe.Recipe {
	return p.recipe
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Close releases the plugins of a pipeline that was never run. After Run
// it does nothing, since Run closes both plugins itself.
func (p *Pipeline) Close() error {
	if p.started.Load() {
		return nil
	}
	var err error
	p.closeOnce.Do(func() {
		p.started.Store(true)
		sinkErr := p.sink.Close(context.Background())
		srcErr := p.source.Close()
		err = errors.CombineErrors(
			errors.Wrapf(sinkErr, "close sink %q", p.recipe.Sink.Type),
			errors.Wrapf(srcErr, "close source %q", p.recipe.Source.Type),
		)
	})
	return err
}
