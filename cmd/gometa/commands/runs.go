package commands

import (
	"fmt"
	"os"

	"github.com/divyamanohar-stripe/datahub/db"
	"github.com/divyamanohar-stripe/datahub/display"
	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/history"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/spf13/cobra"
)

// DefaultHistoryDB is where run history is read from when --db is not set.
const DefaultHistoryDB = "gometa-runs.db"

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded with 'gometa ingest --history'.

Examples:
  gometa runs ls --db runs.db
  gometa runs show 1759309200000 --db runs.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().String("db", DefaultHistoryDB, "Run history database")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, closeDB, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				if runs == nil {
					runs = []*history.Run{}
				}
				return display.OutputJSON(cmd.OutOrStdout(), runs)
			}
			return display.PrintRuns(cmd.OutOrStdout(), runs)
		},
	}
	ls.Flags().Int("limit", history.DefaultLimit, "Maximum number of runs to show")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full outcome of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", run.Outcome)
			return err
		},
	}

	cmd.AddCommand(ls, show)
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, func(), error) {
	path, _ := cmd.Flags().GetString("db")
	if _, err := os.Stat(path); err != nil {
		return nil, nil, errors.WithHint(
			errors.NewNotFoundError("run history %s does not exist", path),
			"record runs with 'gometa ingest --history "+path+"'",
		)
	}
	conn, err := db.OpenWithMigrations(path, logger.ComponentLogger("history"))
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(conn), func() { conn.Close() }, nil
}
