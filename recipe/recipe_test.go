package recipe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func validDoc() map[string]any {
	return map[string]any{
		"source": map[string]any{
			"type":   "file",
			"config": map[string]any{"filename": "proposals.json"},
		},
		"sink": map[string]any{
			"type":   "console",
			"config": map[string]any{},
		},
	}
}

func TestFromMap(t *testing.T) {
	r, err := FromMap(validDoc())
	require.NoError(t, err)

	assert.Equal(t, "file", r.Source.Type)
	assert.Equal(t, "proposals.json", r.Source.Config["filename"])
	assert.Equal(t, DefaultExtractor, r.Source.Extractor)
	assert.Equal(t, "console", r.Sink.Type)
	assert.Empty(t, r.RunID, "run id default is computed by the pipeline, not the recipe")
}

func TestFromMapRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc map[string]any)
		want   string
	}{
		{
			name:   "unknown top level key",
			mutate: func(doc map[string]any) { doc["transformers"] = []any{} },
			want:   "transformers",
		},
		{
			name:   "missing source type",
			mutate: func(doc map[string]any) { delete(doc["source"].(map[string]any), "type") },
			want:   "source.type is required",
		},
		{
			name:   "missing sink",
			mutate: func(doc map[string]any) { delete(doc, "sink") },
			want:   "sink.type is required",
		},
		{
			name:   "config is not a map",
			mutate: func(doc map[string]any) { doc["sink"].(map[string]any)["config"] = "oops" },
			want:   "config",
		},
		{
			name:   "blank run id",
			mutate: func(doc map[string]any) { doc["run_id"] = "   " },
			want:   "run_id",
		},
		{
			name:   "blank extractor",
			mutate: func(doc map[string]any) { doc["source"].(map[string]any)["extractor"] = " " },
			want:   "extractor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			tt.mutate(doc)

			r, err := FromMap(doc)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.True(t, errors.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := FromMap(nil)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestFromMapKeepsExplicitValues(t *testing.T) {
	doc := validDoc()
	doc["run_id"] = "backfill-2024-01"
	doc["source"].(map[string]any)["extractor"] = "custom.Extractor"

	r, err := FromMap(doc)
	require.NoError(t, err)
	assert.Equal(t, "backfill-2024-01", r.RunID)
	assert.Equal(t, "custom.Extractor", r.Source.Extractor)
}

func TestDecodeOptions(t *testing.T) {
	type options struct {
		Server     string        `mapstructure:"server"`
		MaxRetries int           `mapstructure:"max_retries"`
		Timeout    time.Duration `mapstructure:"timeout"`
	}

	var opts options
	err := DecodeOptions(map[string]any{
		"server":      "http://localhost:8080",
		"max_retries": "3",
		"timeout":     "5s",
	}, &opts)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", opts.Server)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 5*time.Second, opts.Timeout)

	err = DecodeOptions(map[string]any{"sever": "typo"}, &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sever")

	var empty options
	require.NoError(t, DecodeOptions(nil, &empty))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GOMETA_TEST_SERVER", "http://gms:8080")

	yamlPath := writeFile(t, dir, "recipe.yml", `
source:
  type: file
  config:
    filename: ./mces.json
sink:
  type: datahub-rest
  config:
    server: ${GOMETA_TEST_SERVER}
run_id: nightly
`)
	tomlPath := writeFile(t, dir, "recipe.toml", `
[source]
type = "file"
[source.config]
filename = "./mces.json"
[sink]
type = "console"
`)
	jsonPath := writeFile(t, dir, "recipe.json", `{"source": {"type": "file", "config": {"filename": "./mces.json"}}, "sink": {"type": "console"}}`)

	r, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "http://gms:8080", r.Sink.Config["server"])
	assert.Equal(t, "nightly", r.RunID)
	assert.Equal(t, DefaultExtractor, r.Source.Extractor)

	for _, path := range []string{tomlPath, jsonPath} {
		r, err := LoadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, "file", r.Source.Type)
		assert.Equal(t, "./mces.json", r.Source.Config["filename"])
		assert.Equal(t, "console", r.Sink.Type)
	}
}

func TestLoadFileRunIDFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.yml", "source:\n  type: file\nsink:\n  type: console\n")
	t.Setenv("GOMETA_RUN_ID", "from-env")

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", r.RunID)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "gometa init")

	_, err = LoadFile(writeFile(t, dir, "recipe.ini", "x=1"))
	assert.True(t, errors.IsConfigurationError(err))

	_, err = LoadFile(writeFile(t, dir, "unset.yml", "source:\n  type: ${GOMETA_TEST_DEFINITELY_UNSET}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOMETA_TEST_DEFINITELY_UNSET")

	_, err = LoadFile(writeFile(t, dir, "broken.yml", "source: [unclosed\n"))
	assert.True(t, errors.IsConfigurationError(err))
}

func TestEncodeRoundTrip(t *testing.T) {
	r, err := FromMap(validDoc())
	require.NoError(t, err)
	r.RunID = "encoded"

	dir := t.TempDir()
	for _, format := range []string{FormatYAML, FormatTOML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			out, err := Encode(r, format)
			require.NoError(t, err)

			path := writeFile(t, dir, "recipe."+format, string(out))
			loaded, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, r.Source.Type, loaded.Source.Type)
			assert.Equal(t, r.Source.Extractor, loaded.Source.Extractor)
			assert.Equal(t, r.Sink.Type, loaded.Sink.Type)
			assert.Equal(t, "encoded", loaded.RunID)
		})
	}

	_, err = Encode(r, "xml")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.yml", "source:\n  type: file\nsink:\n  type: console\nrun_id: first\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	w.debouncePeriod = 20 * time.Millisecond
	defer w.Stop()

	reloaded := make(chan *Recipe, 4)
	w.OnReload(func(r *Recipe) error {
		reloaded <- r
		return nil
	})
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte("source:\n  type: file\nsink:\n  type: console\nrun_id: second\n"), 0o644))

	select {
	case r := <-reloaded:
		assert.Equal(t, "second", r.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("recipe was not reloaded")
	}

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stop is idempotent")
}
