// Package commands implements the gometa command line.
package commands

import (
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/plugins/builtin"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the gometa command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gometa",
		Short: "gometa - metadata ingestion pipelines",
		Long: `gometa runs metadata ingestion pipelines described by recipe files.

A recipe names a source, which splits its input into work units, and a sink,
which writes the change proposals extracted from each unit.

Examples:
  gometa init --source file --sink sqlite > recipe.yml
  gometa check recipe -c recipe.yml
  gometa ingest -c recipe.yml --history runs.db
  gometa runs ls --db runs.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbosity, _ := cmd.Flags().GetCount("verbose")
			logJSON, _ := cmd.Flags().GetBool("log-json")
			if err := logger.Initialize(logJSON, verbosity); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			logger.Debugw("Logger initialized", "verbosity", logger.LevelName(verbosity))
			return nil
		},
	}

	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	root.PersistentFlags().Bool("json", false, "Output results as JSON")
	root.PersistentFlags().Bool("log-json", false, "Write structured JSON logs")

	root.AddCommand(
		newIngestCmd(),
		newCheckCmd(),
		newInitCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)
	return root
}

// newRegistry is the registry every command resolves plugins against.
var newRegistry = func() (*plugin.Registry, error) {
	return builtin.NewRegistry()
}

func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}
