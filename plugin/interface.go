// Package plugin provides the registry that maps recipe keys to source and
// sink factories, and qualified names to extractor factories.
//
// Registration is explicit: the binary builds a Registry at startup and
// hands it to each plugin package's registration function. Resolution is a
// typed lookup that fails closed with a ConfigurationError on a miss.
package plugin

import (
	"github.com/divyamanohar-stripe/datahub/ingestion"
)

// Kind is the capability a registry key resolves to.
type Kind string

const (
	KindSource Kind = "source"
	KindSink   Kind = "sink"
)

// Metadata describes a source or sink plugin.
type Metadata struct {
	// Name is the registry key used in recipes (e.g. "file", "datahub-rest")
	Name string `json:"name"`

	// Version is the plugin version (semver)
	Version string `json:"version"`

	// Requires is a semver constraint on the plugin API version
	// (e.g. ">= 1.0, < 2"). Empty means any.
	Requires string `json:"requires,omitempty"`

	// Description is a human-readable description
	Description string `json:"description,omitempty"`
}

// SourceFactory builds a source from its recipe options.
type SourceFactory func(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Source, error)

// SinkFactory builds a sink from its recipe options.
type SinkFactory func(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error)

// ExtractorFactory returns a fresh, unconfigured extractor.
type ExtractorFactory func() ingestion.Extractor
