package commands

import (
	"os"
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/spf13/cobra"
)

// starterConfigs are the options written for each plugin by gometa init.
var starterConfigs = map[string]map[string]any{
	"file":         {"filename": "mces.json"},
	"git":          {"repo": ".", "max_commits": 100},
	"console":      {},
	"sqlite":       {"path": "metadata.db"},
	"datahub-rest": {"server": "http://localhost:8080", "token": "${DATAHUB_TOKEN}"},
}

// starterSinkConfigs overrides starterConfigs where a source and a sink share
// a key.
var starterSinkConfigs = map[string]map[string]any{
	"file": {"filename": "proposals.json"},
}

func newInitCmd() *cobra.Command {
	var format, source, sink, output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter recipe",
		Long: `Write a starter recipe for the given source and sink.

Examples:
  gometa init > recipe.yml
  gometa init --source git --sink datahub-rest --format toml -o recipe.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			rc := &recipe.Recipe{
				Source: recipe.SourceConfig{Type: source, Extractor: recipe.DefaultExtractor},
				Sink:   recipe.PluginConfig{Type: sink},
			}
			if err := registry.Check(rc); err != nil {
				return err
			}
			rc.Source.Config = starterConfig(starterConfigs, source)
			rc.Sink.Config = starterConfig(starterSinkConfigs, sink)

			data, err := recipe.Encode(rc, strings.ToLower(format))
			if err != nil {
				return errors.WithHintf(err, "supported formats: %s, %s, %s", recipe.FormatYAML, recipe.FormatTOML, recipe.FormatJSON)
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if _, err := os.Stat(output); err == nil {
				return errors.WithHint(errors.Newf("%s already exists", output), "remove it or choose another --output")
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return errors.Wrapf(err, "failed to write %s", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", recipe.FormatYAML, "Recipe format: yaml, toml or json")
	cmd.Flags().StringVar(&source, "source", "file", "Source plugin")
	cmd.Flags().StringVar(&sink, "sink", "console", "Sink plugin")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func starterConfig(overrides map[string]map[string]any, name string) map[string]any {
	base, ok := overrides[name]
	if !ok {
		base = starterConfigs[name]
	}
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}
