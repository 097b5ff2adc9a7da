// Package builtin registers the sources, sinks and extractors that ship
// with gometa.
package builtin

import (
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/extractor/generic"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/sink/console"
	filesink "github.com/divyamanohar-stripe/datahub/sink/file"
	"github.com/divyamanohar-stripe/datahub/sink/rest"
	"github.com/divyamanohar-stripe/datahub/sink/sqlite"
	filesource "github.com/divyamanohar-stripe/datahub/source/file"
	gitsource "github.com/divyamanohar-stripe/datahub/source/git"
	"github.com/divyamanohar-stripe/datahub/version"
)

var sources = []struct {
	meta    plugin.Metadata
	factory plugin.SourceFactory
}{
	{filesource.Metadata, filesource.New},
	{gitsource.Metadata, gitsource.New},
}

var sinks = []struct {
	meta    plugin.Metadata
	factory plugin.SinkFactory
}{
	{console.Metadata, console.New},
	{filesink.Metadata, filesink.New},
	{sqlite.Metadata, sqlite.New},
	{rest.Metadata, rest.New},
}

// RegisterAll adds every built-in plugin to r.
func RegisterAll(r *plugin.Registry) error {
	for _, s := range sources {
		if err := r.RegisterSource(s.meta, s.factory); err != nil {
			return errors.Wrapf(err, "register source %s", s.meta.Name)
		}
	}
	for _, s := range sinks {
		if err := r.RegisterSink(s.meta, s.factory); err != nil {
			return errors.Wrapf(err, "register sink %s", s.meta.Name)
		}
	}
	if err := r.RegisterExtractor(generic.Name, generic.New); err != nil {
		return errors.Wrapf(err, "register extractor %s", generic.Name)
	}
	return nil
}

// NewRegistry returns a registry for the running API version with every
// built-in plugin registered.
func NewRegistry() (*plugin.Registry, error) {
	r := plugin.NewRegistry(version.APIVersion)
	if err := RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}
