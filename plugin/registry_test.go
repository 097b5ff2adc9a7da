package plugin

import (
	"testing"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/ingestion/ingestiontest"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type factoryCalls struct {
	sources int
	sinks   int
}

func newTestRegistry(t *testing.T, calls *factoryCalls) (*Registry, *ingestiontest.Source) {
	t.Helper()
	r := NewRegistry("1.1.0")
	src := ingestiontest.NewSource(nil, "a", "b")

	require.NoError(t, r.RegisterSource(Metadata{Name: "fake", Version: "0.1.0"},
		func(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Source, error) {
			calls.sources++
			return src, nil
		}))
	require.NoError(t, r.RegisterSink(Metadata{Name: "fake"},
		func(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Sink, error) {
			calls.sinks++
			if config["fail"] == true {
				return nil, errors.New("sink option fail=true")
			}
			return &ingestiontest.Sink{}, nil
		}))
	require.NoError(t, r.RegisterExtractor(recipe.DefaultExtractor, func() ingestion.Extractor {
		return &ingestiontest.Extractor{}
	}))
	return r, src
}

func testRecipe(source, sink, extractor string) *recipe.Recipe {
	return &recipe.Recipe{
		Source: recipe.SourceConfig{Type: source, Extractor: extractor},
		Sink:   recipe.PluginConfig{Type: sink},
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry("1.0.0")
	assert.Equal(t, "1.0.0", registry.version)
	assert.Empty(t, registry.Sources())
	assert.Empty(t, registry.Sinks())
	assert.Empty(t, registry.Extractors())
}

func TestRegistry_Register(t *testing.T) {
	noopSource := func(map[string]any, *ingestion.PipelineContext) (ingestion.Source, error) { return nil, nil }
	noopSink := func(map[string]any, *ingestion.PipelineContext) (ingestion.Sink, error) { return nil, nil }

	t.Run("name conflict", func(t *testing.T) {
		registry := NewRegistry("1.0.0")
		require.NoError(t, registry.RegisterSource(Metadata{Name: "file"}, noopSource))

		err := registry.RegisterSource(Metadata{Name: "file"}, noopSource)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")

		// sources and sinks have separate namespaces
		assert.NoError(t, registry.RegisterSink(Metadata{Name: "file"}, noopSink))
	})

	t.Run("empty name", func(t *testing.T) {
		err := NewRegistry("1.0.0").RegisterSink(Metadata{Name: " "}, noopSink)
		assert.Error(t, err)
	})

	t.Run("nil factory", func(t *testing.T) {
		registry := NewRegistry("1.0.0")
		assert.Error(t, registry.RegisterSource(Metadata{Name: "x"}, nil))
		assert.Error(t, registry.RegisterSink(Metadata{Name: "x"}, nil))
		assert.Error(t, registry.RegisterExtractor("pkg.X", nil))
	})

	t.Run("invalid plugin version", func(t *testing.T) {
		err := NewRegistry("1.0.0").RegisterSource(Metadata{Name: "x", Version: "not-semver"}, noopSource)
		assert.Error(t, err)
	})

	t.Run("extractor names must be qualified", func(t *testing.T) {
		registry := NewRegistry("1.0.0")
		factory := func() ingestion.Extractor { return &ingestiontest.Extractor{} }
		assert.Error(t, registry.RegisterExtractor("WorkUnitMCEExtractor", factory))
		assert.Error(t, registry.RegisterExtractor("generic.", factory))
		assert.NoError(t, registry.RegisterExtractor("generic.WorkUnitMCEExtractor", factory))
		assert.Error(t, registry.RegisterExtractor("generic.WorkUnitMCEExtractor", factory))
	})
}

func TestRegistry_VersionConstraints(t *testing.T) {
	noopSource := func(map[string]any, *ingestion.PipelineContext) (ingestion.Source, error) { return nil, nil }

	tests := []struct {
		name       string
		apiVersion string
		requires   string
		wantErr    bool
	}{
		{"no constraint", "1.1.0", "", false},
		{"satisfied", "1.1.0", ">= 1.0, < 2", false},
		{"too old", "1.1.0", ">= 1.2", true},
		{"major bump", "2.0.0", "^1.0", true},
		{"invalid constraint", "1.1.0", "abc", true},
		{"invalid api version", "dev", ">= 1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(tt.apiVersion).RegisterSource(Metadata{Name: "x", Requires: tt.requires}, noopSource)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_ResolveUnknownKey(t *testing.T) {
	calls := &factoryCalls{}
	registry, _ := newTestRegistry(t, calls)
	pctx := ingestion.NewPipelineContext("run")

	_, err := registry.ResolveSource("nonexistent-source", nil, pctx)
	require.Error(t, err)
	var cfgErr *errors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "source", cfgErr.Kind)
	assert.Equal(t, "nonexistent-source", cfgErr.Key)
	assert.Contains(t, errors.FlattenHints(err), "fake")

	_, err = registry.ResolveSink("nonexistent-sink", nil, pctx)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "sink", cfgErr.Kind)

	_, err = registry.LookupExtractor("generic.Missing")
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "extractor", cfgErr.Kind)

	assert.Zero(t, calls.sources)
	assert.Zero(t, calls.sinks)
}

func TestRegistry_FactoryErrorsAreConfigurationErrors(t *testing.T) {
	registry, _ := newTestRegistry(t, &factoryCalls{})

	_, err := registry.ResolveSink("fake", map[string]any{"fail": true}, ingestion.NewPipelineContext("run"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "sink option fail=true")

	require.NoError(t, registry.RegisterSource(Metadata{Name: "nil"},
		func(map[string]any, *ingestion.PipelineContext) (ingestion.Source, error) { return nil, nil }))
	_, err = registry.ResolveSource("nil", nil, ingestion.NewPipelineContext("run"))
	assert.True(t, errors.IsConfigurationError(err))
}

func TestRegistry_CheckValidatesBeforeConstructing(t *testing.T) {
	tests := []struct {
		name     string
		recipe   *recipe.Recipe
		wantKind string
		wantKey  string
	}{
		{"unknown source", testRecipe("missing", "fake", recipe.DefaultExtractor), "source", "missing"},
		{"unknown sink", testRecipe("fake", "missing", recipe.DefaultExtractor), "sink", "missing"},
		{"unknown extractor", testRecipe("fake", "fake", "generic.Missing"), "extractor", "generic.Missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := &factoryCalls{}
			registry, _ := newTestRegistry(t, calls)

			resolved, err := registry.Resolve(tt.recipe, ingestion.NewPipelineContext("run"))
			require.Error(t, err)
			assert.Nil(t, resolved)

			var cfgErr *errors.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantKind, cfgErr.Kind)
			assert.Equal(t, tt.wantKey, cfgErr.Key)

			assert.Zero(t, calls.sources, "no factory runs when a name is unknown")
			assert.Zero(t, calls.sinks)
		})
	}
}

func TestRegistry_ResolveRollsBackSourceOnSinkFailure(t *testing.T) {
	calls := &factoryCalls{}
	registry, src := newTestRegistry(t, calls)

	rc := testRecipe("fake", "fake", recipe.DefaultExtractor)
	rc.Sink.Config = map[string]any{"fail": true}

	_, err := registry.Resolve(rc, ingestion.NewPipelineContext("run"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Equal(t, 1, calls.sources)
	assert.Equal(t, 1, src.Closed())
}

func TestRegistry_Resolve(t *testing.T) {
	calls := &factoryCalls{}
	registry, src := newTestRegistry(t, calls)

	resolved, err := registry.Resolve(testRecipe("fake", "fake", recipe.DefaultExtractor), ingestion.NewPipelineContext("run"))
	require.NoError(t, err)
	assert.Same(t, src, resolved.Source)
	assert.NotNil(t, resolved.Sink)
	require.NotNil(t, resolved.NewExtractor)
	assert.NotNil(t, resolved.NewExtractor())

	assert.Equal(t, 1, calls.sources)
	assert.Equal(t, 1, calls.sinks)
}

func TestRegistry_Listing(t *testing.T) {
	registry, _ := newTestRegistry(t, &factoryCalls{})
	require.NoError(t, registry.RegisterSource(Metadata{Name: "alpha"},
		func(map[string]any, *ingestion.PipelineContext) (ingestion.Source, error) { return nil, nil }))

	sources := registry.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "alpha", sources[0].Name)
	assert.Equal(t, "fake", sources[1].Name)
	assert.Equal(t, []string{recipe.DefaultExtractor}, registry.Extractors())
}
