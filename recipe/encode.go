package recipe

import (
	"encoding/json"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Supported recipe formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// ToMap renders the recipe as a plain document, the inverse of FromMap.
func (r *Recipe) ToMap() map[string]any {
	source := map[string]any{
		"type":      r.Source.Type,
		"config":    nonNil(r.Source.Config),
		"extractor": r.Source.Extractor,
	}
	sink := map[string]any{
		"type":   r.Sink.Type,
		"config": nonNil(r.Sink.Config),
	}
	doc := map[string]any{"source": source, "sink": sink}
	if r.RunID != "" {
		doc["run_id"] = r.RunID
	}
	return doc
}

// Encode writes the recipe in the given format.
func Encode(r *Recipe, format string) ([]byte, error) {
	doc := r.ToMap()
	switch format {
	case FormatYAML, "yml":
		return yaml.Marshal(doc)
	case FormatTOML:
		return toml.Marshal(doc)
	case FormatJSON:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode recipe as json")
		}
		return append(out, '\n'), nil
	default:
		return nil, errors.NewInvalidRequestError("unsupported recipe format %q", format)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
