package plugin

import (
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
)

type sourceEntry struct {
	metadata Metadata
	factory  SourceFactory
}

type sinkEntry struct {
	metadata Metadata
	factory  SinkFactory
}

// Registry holds every plugin the binary knows about. It is written during
// startup and only read afterwards.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]sourceEntry
	sinks      map[string]sinkEntry
	extractors map[string]ExtractorFactory
	version    string // plugin API version
}

// NewRegistry creates an empty registry for the given plugin API version.
func NewRegistry(apiVersion string) *Registry {
	return &Registry{
		sources:    make(map[string]sourceEntry),
		sinks:      make(map[string]sinkEntry),
		extractors: make(map[string]ExtractorFactory),
		version:    apiVersion,
	}
}

// RegisterSource registers a source factory under metadata.Name.
// Returns error if the name is taken or the plugin is incompatible.
func (r *Registry) RegisterSource(metadata Metadata, factory SourceFactory) error {
	if factory == nil {
		return errors.Newf("source %q: nil factory", metadata.Name)
	}
	if err := r.checkMetadata(KindSource, metadata); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[metadata.Name]; exists {
		return errors.Newf("source plugin already registered: %s", metadata.Name)
	}
	r.sources[metadata.Name] = sourceEntry{metadata: metadata, factory: factory}
	return nil
}

// RegisterSink registers a sink factory under metadata.Name.
// Returns error if the name is taken or the plugin is incompatible.
func (r *Registry) RegisterSink(metadata Metadata, factory SinkFactory) error {
	if factory == nil {
		return errors.Newf("sink %q: nil factory", metadata.Name)
	}
	if err := r.checkMetadata(KindSink, metadata); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[metadata.Name]; exists {
		return errors.Newf("sink plugin already registered: %s", metadata.Name)
	}
	r.sinks[metadata.Name] = sinkEntry{metadata: metadata, factory: factory}
	return nil
}

// RegisterExtractor registers an extractor factory under its qualified
// name (e.g. "generic.WorkUnitMCEExtractor").
func (r *Registry) RegisterExtractor(qualifiedName string, factory ExtractorFactory) error {
	if factory == nil {
		return errors.Newf("extractor %q: nil factory", qualifiedName)
	}
	if !isQualifiedName(qualifiedName) {
		return errors.Newf("extractor name %q must be qualified as <package>.<Type>", qualifiedName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extractors[qualifiedName]; exists {
		return errors.Newf("extractor already registered: %s", qualifiedName)
	}
	r.extractors[qualifiedName] = factory
	return nil
}

func (r *Registry) checkMetadata(kind Kind, metadata Metadata) error {
	if strings.TrimSpace(metadata.Name) == "" {
		return errors.Newf("%s plugin has an empty name", kind)
	}
	if metadata.Version != "" {
		if _, err := semver.NewVersion(metadata.Version); err != nil {
			return errors.Wrapf(err, "%s %q: invalid version %s", kind, metadata.Name, metadata.Version)
		}
	}
	if err := r.validateVersion(metadata); err != nil {
		return errors.Wrapf(err, "version incompatible for %s %q", kind, metadata.Name)
	}
	return nil
}

// validateVersion checks the plugin's API constraint against the registry
func (r *Registry) validateVersion(metadata Metadata) error {
	if metadata.Requires == "" {
		return nil
	}

	apiVer, err := semver.NewVersion(r.version)
	if err != nil {
		return errors.Wrapf(err, "invalid plugin API version %s", r.version)
	}

	constraint, err := semver.NewConstraint(metadata.Requires)
	if err != nil {
		return errors.Wrapf(err, "invalid version constraint %s", metadata.Requires)
	}

	if !constraint.Check(apiVer) {
		return errors.Newf("plugin requires API %s, but running %s", metadata.Requires, r.version)
	}
	return nil
}

func isQualifiedName(name string) bool {
	dot := strings.LastIndex(name, ".")
	return dot > 0 && dot < len(name)-1 && !strings.ContainsAny(name, " \t\n")
}

// ResolveSource constructs the source registered under key.
func (r *Registry) ResolveSource(key string, config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Source, error) {
	r.mu.RLock()
	entry, ok := r.sources[key]
	r.mu.RUnlock()
	if !ok {
		return nil, r.unknown(KindSource, key)
	}

	src, err := entry.factory(config, pctx)
	if err != nil {
		return nil, errors.WrapConfigurationError(err, errors.KindSource, key)
	}
	if src == nil {
		return nil, errors.NewConfigurationError(errors.KindSource, key, "factory returned no source")
	}
	return src, nil
}

// ResolveSink constructs the sink registered under key.
func (r *Registry) ResolveSink(key string, config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
	r.mu.RLock()
	entry, ok := r.sinks[key]
	r.mu.RUnlock()
	if !ok {
		return nil, r.unknown(KindSink, key)
	}

	sink, err := entry.factory(config, pctx)
	if err != nil {
		return nil, errors.WrapConfigurationError(err, errors.KindSink, key)
	}
	if sink == nil {
		return nil, errors.NewConfigurationError(errors.KindSink, key, "factory returned no sink")
	}
	return sink, nil
}

// LookupExtractor returns the factory registered under qualifiedName
// without instantiating it.
func (r *Registry) LookupExtractor(qualifiedName string) (ExtractorFactory, error) {
	r.mu.RLock()
	factory, ok := r.extractors[qualifiedName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WithHint(
			errors.NewConfigurationError(errors.KindExtractor, qualifiedName, "no extractor registered under this name"),
			"registered extractors: "+strings.Join(r.Extractors(), ", "),
		)
	}
	return factory, nil
}

func (r *Registry) unknown(kind Kind, key string) error {
	var known []string
	if kind == KindSource {
		known = names(r.Sources())
	} else {
		known = names(r.Sinks())
	}
	return errors.WithHint(
		errors.NewConfigurationError(string(kind), key, "no %s registered under this key", kind),
		"registered "+string(kind)+"s: "+strings.Join(known, ", "),
	)
}

// Sources returns metadata of every registered source, sorted by name.
func (r *Registry) Sources() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.sources))
	for _, e := range r.sources {
		out = append(out, e.metadata)
	}
	sortMetadata(out)
	return out
}

// Sinks returns metadata of every registered sink, sorted by name.
func (r *Registry) Sinks() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.sinks))
	for _, e := range r.sinks {
		out = append(out, e.metadata)
	}
	sortMetadata(out)
	return out
}

// Extractors returns every registered extractor name in sorted order.
func (r *Registry) Extractors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortMetadata(m []Metadata) {
	sort.Slice(m, func(i, j int) bool { return m[i].Name < m[j].Name })
}

func names(m []Metadata) []string {
	out := make([]string, len(m))
	for i := range m {
		out[i] = m[i].Name
	}
	return out
}
