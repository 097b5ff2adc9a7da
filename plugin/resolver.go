package plugin

import (
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/recipe"
)

// Resolved holds the plugins built for one pipeline.
type Resolved struct {
	Source       ingestion.Source
	Sink         ingestion.Sink
	NewExtractor ExtractorFactory
}

// Check verifies that the source key, sink key and extractor name of rc
// are all registered. Nothing is constructed.
func (r *Registry) Check(rc *recipe.Recipe) error {
	r.mu.RLock()
	_, hasSource := r.sources[rc.Source.Type]
	_, hasSink := r.sinks[rc.Sink.Type]
	r.mu.RUnlock()

	if !hasSource {
		return r.unknown(KindSource, rc.Source.Type)
	}
	if !hasSink {
		return r.unknown(KindSink, rc.Sink.Type)
	}
	if _, err := r.LookupExtractor(rc.Source.Extractor); err != nil {
		return err
	}
	return nil
}

// Resolve builds the source and sink of rc and looks up its extractor.
//
// All three names are checked before any factory runs. If the sink factory
// fails after the source was built, the source is closed before returning,
// so a failed Resolve leaves nothing open.
func (r *Registry) Resolve(rc *recipe.Recipe, pctx *ingestion.PipelineContext) (*Resolved, error) {
	if err := r.Check(rc); err != nil {
		return nil, err
	}

	newExtractor, err := r.LookupExtractor(rc.Source.Extractor)
	if err != nil {
		return nil, err
	}

	source, err := r.ResolveSource(rc.Source.Type, rc.Source.Config, pctx)
	if err != nil {
		return nil, err
	}

	sink, err := r.ResolveSink(rc.Sink.Type, rc.Sink.Config, pctx)
	if err != nil {
		if closeErr := source.Close(); closeErr != nil {
			err = errors.WithSecondaryError(err, errors.Wrapf(closeErr, "close source %q after failed sink construction", rc.Source.Type))
		}
		return nil, err
	}

	return &Resolved{
		Source:       source,
		Sink:         sink,
		NewExtractor: newExtractor,
	}, nil
}
