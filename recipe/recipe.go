// Package recipe holds the pipeline configuration document: which source
// and sink to build, with which options, under which run id.
package recipe

import (
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/go-viper/mapstructure/v2"
)

// DefaultExtractor is the qualified name of the extractor used when a
// recipe does not name one.
const DefaultExtractor = "generic.WorkUnitMCEExtractor"

// Recipe is a pipeline configuration document.
type Recipe struct {
	Source SourceConfig `mapstructure:"source"`
	Sink   PluginConfig `mapstructure:"sink"`
	// RunID is optional; when empty the pipeline derives one at
	// construction time.
	RunID string `mapstructure:"run_id"`
}

// SourceConfig selects a source plugin and the extractor that turns its
// work units into records.
type SourceConfig struct {
	Type      string         `mapstructure:"type"`
	Config    map[string]any `mapstructure:"config"`
	Extractor string         `mapstructure:"extractor"`
}

// PluginConfig selects a sink plugin.
type PluginConfig struct {
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// FromMap decodes an in-memory recipe document. Unknown keys are rejected.
// Defaults are applied and the result is validated before it is returned.
func FromMap(raw map[string]any) (*Recipe, error) {
	if raw == nil {
		return nil, errors.NewConfigurationError(errors.KindRecipe, "", "recipe document is empty")
	}

	var r Recipe
	if err := strictDecode(raw, &r); err != nil {
		return nil, errors.WithSecondaryError(
			errors.NewConfigurationError(errors.KindRecipe, "", "%s", flattenDecodeError(err)),
			err,
		)
	}

	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the recipe's structural shape. It does not consult the
// plugin registry.
func (r *Recipe) Validate() error {
	if strings.TrimSpace(r.Source.Type) == "" {
		return errors.WithHint(
			errors.NewConfigurationError(errors.KindRecipe, "", "source.type is required"),
			"run 'gometa check plugins' to list registered sources",
		)
	}
	if strings.TrimSpace(r.Sink.Type) == "" {
		return errors.WithHint(
			errors.NewConfigurationError(errors.KindRecipe, "", "sink.type is required"),
			"run 'gometa check plugins' to list registered sinks",
		)
	}
	if strings.TrimSpace(r.Source.Extractor) == "" {
		return errors.NewConfigurationError(errors.KindRecipe, "", "source.extractor must not be blank")
	}
	if r.RunID != "" && strings.TrimSpace(r.RunID) == "" {
		return errors.NewConfigurationError(errors.KindRecipe, "", "run_id must not be blank")
	}
	return nil
}

func (r *Recipe) applyDefaults() {
	if r.Source.Extractor == "" {
		r.Source.Extractor = DefaultExtractor
	}
}

// DecodeOptions decodes a plugin's options block into out. Unknown option
// keys are rejected; strings convert to numbers, bools and durations.
func DecodeOptions(raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	if err := strictDecode(raw, out); err != nil {
		return errors.Newf("%s", flattenDecodeError(err))
	}
	return nil
}

func strictDecode(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// flattenDecodeError turns a multi-line mapstructure error into one line.
func flattenDecodeError(err error) string {
	lines := strings.Split(err.Error(), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "; ")
}
