package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/divyamanohar-stripe/datahub/db"
	"github.com/divyamanohar-stripe/datahub/display"
	"github.com/divyamanohar-stripe/datahub/history"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/pipeline"
	"github.com/divyamanohar-stripe/datahub/pulse"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	recipePath     string
	strictWarnings bool
	historyPath    string
	watch          bool
}

func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the pipeline described by a recipe",
		Long: `Construct a pipeline from a recipe and run it once.

The command exits non-zero when the run fails, or when any report holds
failures (or warnings, with --strict-warnings).

With --watch, the recipe is run again every time the file changes, until
the process is interrupted.

Examples:
  gometa ingest -c recipe.yml
  gometa ingest -c recipe.yml --json
  gometa ingest -c recipe.yml --history runs.db --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.watch {
				return watchIngest(ctx, cmd, opts)
			}
			rc, err := recipe.LoadFile(opts.recipePath)
			if err != nil {
				return err
			}
			return runIngest(ctx, cmd, opts, rc)
		},
	}
	cmd.Flags().StringVarP(&opts.recipePath, "config", "c", "", "Recipe file (yaml, toml or json)")
	cmd.Flags().BoolVar(&opts.strictWarnings, "strict-warnings", false, "Treat warnings as failures")
	cmd.Flags().StringVar(&opts.historyPath, "history", "", "Record the run outcome in this SQLite database")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run whenever the recipe file changes")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, opts *ingestOptions, rc *recipe.Recipe) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	asJSON := display.ShouldOutputJSON(cmd)
	var progress pulse.ProgressEmitter
	if asJSON {
		progress = display.NewJSONEmitter(cmd.ErrOrStderr())
	} else {
		progress = display.NewCLIEmitter(cmd.ErrOrStderr(), verbosity(cmd))
	}

	p, err := pipeline.New(rc, registry, pipeline.WithProgress(progress))
	if err != nil {
		return err
	}

	outcome, runErr := p.Run(ctx)
	if outcome == nil {
		return runErr
	}

	if opts.historyPath != "" {
		if err := recordOutcome(ctx, opts.historyPath, outcome); err != nil {
			// History is best effort and never changes the exit status.
			logger.Warnw("Failed to record run history", logger.FieldRunID, outcome.RunID, logger.FieldError, err.Error())
		}
	}

	if asJSON {
		if err := display.OutputJSON(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	} else if err := display.PrintOutcome(cmd.OutOrStdout(), outcome); err != nil {
		return err
	}
	return outcome.RaiseFromStatus(opts.strictWarnings)
}

func recordOutcome(ctx context.Context, path string, outcome *pipeline.Outcome) error {
	conn, err := db.OpenWithMigrations(path, logger.ComponentLogger("history"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return history.NewStore(conn).Record(context.WithoutCancel(ctx), outcome)
}

// watchIngest runs the recipe once, then again after every change to the
// file, until ctx is done. Runs never overlap; changes that arrive during a
// run collapse into one rerun.
func watchIngest(ctx context.Context, cmd *cobra.Command, opts *ingestOptions) error {
	rc, err := recipe.LoadFile(opts.recipePath)
	if err != nil {
		return err
	}

	reloads := make(chan *recipe.Recipe, 1)
	w, err := recipe.NewWatcher(opts.recipePath, logger.ComponentLogger("recipe.watcher"))
	if err != nil {
		return err
	}
	defer w.Stop()
	w.OnReload(func(r *recipe.Recipe) error {
		select {
		case <-reloads:
		default:
		}
		select {
		case reloads <- r:
		default:
		}
		return nil
	})
	w.Start()

	for {
		if err := runIngest(ctx, cmd, opts, rc); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warnw("Run did not succeed, waiting for recipe changes", logger.FieldError, err.Error())
		}
		select {
		case <-ctx.Done():
			return nil
		case rc = <-reloads:
			logger.Infow("Recipe changed, running again", logger.FieldFile, opts.recipePath)
		}
	}
}
