package recipe

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override recipe
// fields (GOMETA_RUN_ID).
const EnvPrefix = "GOMETA"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadFile reads a YAML, TOML or JSON recipe. ${VAR} references are
// expanded from the environment before parsing.
//
// Keys are case-insensitive: viper lowercases them, so plugin options in
// recipe files are written in snake_case.
func LoadFile(path string) (*Recipe, error) {
	configType, err := configTypeFor(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to read recipe %s", path),
			"create one with 'gometa init'",
		)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "recipe %s", path)
	}

	v := viper.New()
	v.SetConfigType(configType)
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, errors.Wrap(err, "failed to bind recipe environment")
	}

	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, errors.WithSecondaryError(
			errors.NewConfigurationError(errors.KindRecipe, "", "cannot parse %s as %s", filepath.Base(path), configType),
			err,
		)
	}

	r, err := FromMap(v.AllSettings())
	if err != nil {
		return nil, errors.Wrapf(err, "recipe %s", path)
	}
	return r, nil
}

// SetDefaults configures default values for recipe fields.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.extractor", DefaultExtractor)
}

// BindEnv binds the recipe fields that may be overridden from the
// environment.
func BindEnv(v *viper.Viper) error {
	return v.BindEnv("run_id", EnvPrefix+"_RUN_ID")
}

func configTypeFor(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	case ".json":
		return "json", nil
	default:
		return "", errors.WithHint(
			errors.NewConfigurationError(errors.KindRecipe, "", "unsupported recipe extension %q", ext),
			"use .yml, .yaml, .toml or .json",
		)
	}
}

// expandEnv replaces ${VAR} references. A reference to an unset variable
// is an error so that a missing secret never silently becomes "".
func expandEnv(raw []byte) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return []byte(val)
	})
	if len(missing) > 0 {
		return nil, errors.NewConfigurationError(errors.KindRecipe, "", "environment variables not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
