package commands

import (
	"fmt"

	"github.com/divyamanohar-stripe/datahub/display"
	"github.com/divyamanohar-stripe/datahub/pipeline"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate recipes and list plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newCheckRecipeCmd(), newCheckPluginsCmd())
	return cmd
}

func newCheckRecipeCmd() *cobra.Command {
	var (
		path      string
		construct bool
	)
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Validate a recipe without running it",
		Long: `Parse a recipe and check that its source, sink and extractor are all
registered.

With --construct the source and sink are also built from their options and
closed again, which validates plugin options. Building a sink may create
its output file or database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := recipe.LoadFile(path)
			if err != nil {
				return err
			}
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			if construct {
				p, err := pipeline.New(rc, registry)
				if err != nil {
					return err
				}
				if err := p.Close(); err != nil {
					return err
				}
			} else if err := registry.Check(rc); err != nil {
				return err
			}

			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), map[string]any{
					"valid":     true,
					"source":    rc.Source.Type,
					"sink":      rc.Sink.Type,
					"extractor": rc.Source.Extractor,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintf("%s is valid: %s → %s (extractor %s)\n",
				path, rc.Source.Type, rc.Sink.Type, rc.Source.Extractor))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "Recipe file (yaml, toml or json)")
	cmd.Flags().BoolVar(&construct, "construct", false, "Also build and close the source and sink")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

type pluginListing struct {
	Sources    []plugin.Metadata `json:"sources"`
	Sinks      []plugin.Metadata `json:"sinks"`
	Extractors []string          `json:"extractors"`
}

func newCheckPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered sources, sinks and extractors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			listing := pluginListing{
				Sources:    registry.Sources(),
				Sinks:      registry.Sinks(),
				Extractors: registry.Extractors(),
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), listing)
			}

			rows := [][]string{{"Kind", "Name", "Version", "Requires", "Description"}}
			for _, m := range listing.Sources {
				rows = append(rows, []string{"source", m.Name, m.Version, m.Requires, m.Description})
			}
			for _, m := range listing.Sinks {
				rows = append(rows, []string{"sink", m.Name, m.Version, m.Requires, m.Description})
			}
			for _, name := range listing.Extractors {
				rows = append(rows, []string{"extractor", name, "", "", ""})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
