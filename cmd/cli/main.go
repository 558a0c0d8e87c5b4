package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"mltrack/adapters/artifacts"
	"mltrack/adapters/sqlstore"
	"mltrack/adapters/sqlstore/migrations"
	"mltrack/app"
	"mltrack/domain/tracking"
	"mltrack/internal"
	"mltrack/internal/config"
	"mltrack/internal/errors"
	"mltrack/internal/tracker"
	"mltrack/ports"

	"github.com/spf13/cobra"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "mltrack",
		Short:         "Train and evaluate models and record the runs in an MLflow-compatible tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				internal.DefaultLogger.SetLevel(internal.ParseLogLevel(logLevel))
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (ERROR, WARN, INFO, DEBUG, TRACE); defaults to LOG_LEVEL")

	rootCmd.AddCommand(
		newTrainIrisCmd(),
		newEvaluateCmd(),
		newExperimentsCmd(),
		newRunsCmd(),
		newMigrateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// openTracker loads the environment configuration and connects to the
// tracking backend. fallbackURI is used only when MLFLOW_TRACKING_URI is
// set neither in the environment nor in .env.
func openTracker(ctx context.Context, fallbackURI string) (*tracker.Tracker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Tracking.PreferURI(fallbackURI)
	return tracker.New(ctx, cfg.Tracking)
}

func newTrainIrisCmd() *cobra.Command {
	cfg := app.DefaultIrisConfig()

	cmd := &cobra.Command{
		Use:   "train-iris",
		Short: "Train a random forest on Iris and log the run",
		Long: `Train a random forest classifier, log its hyperparameters, test metrics,
confusion matrix, dataset profile, HTML report and the model itself, and
register the model.

Example: mltrack train-iris --n-estimators 200 --max-depth 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTracker(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer t.Close()

			_, err = app.NewIrisExperiment(t, cfg, cmd.OutOrStdout()).Run(cmd.Context())
			return err
		},
	}

	cmd.Flags().IntVar(&cfg.NEstimators, "n-estimators", cfg.NEstimators, "Number of trees")
	cmd.Flags().IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "Maximum tree depth (0 for unlimited)")
	cmd.Flags().Int64Var(&cfg.RandomState, "random-state", cfg.RandomState, "Seed for the split and the forest")
	cmd.Flags().Float64Var(&cfg.TestSize, "test-size", cfg.TestSize, "Test fraction, or an absolute count when >= 1")
	cmd.Flags().StringVar(&cfg.DataPath, "data", "", "CSV or XLSX file to train on instead of the bundled Iris data")
	cmd.Flags().StringVar(&cfg.Target, "target", cfg.Target, "Label column of --data")
	cmd.Flags().StringVar(&cfg.OutDir, "out", "", "Keep the rendered artifacts in this directory")
	cmd.Flags().StringVar(&cfg.ExperimentName, "experiment", cfg.ExperimentName, "Experiment name")
	cmd.Flags().StringVar(&cfg.RegisteredModelName, "registered-model", cfg.RegisteredModelName, "Registered model name (empty skips registration)")

	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var configPath, paramsPath string
	var noLog bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the trained CNN on the validation images and log the score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.NewConfigurationManager(configPath, paramsPath)
			if err != nil {
				return err
			}
			evalConfig, err := manager.GetEvaluationConfig()
			if err != nil {
				return err
			}

			evaluation := app.NewEvaluation(evalConfig, cmd.OutOrStdout())
			if err := evaluation.Evaluate(cmd.Context()); err != nil {
				return err
			}
			if noLog {
				return nil
			}

			t, err := openTracker(cmd.Context(), evalConfig.MLflowURI)
			if err != nil {
				return err
			}
			defer t.Close()
			return evaluation.LogIntoTracker(cmd.Context(), t)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", app.DefaultConfigPath, "Pipeline configuration file")
	cmd.Flags().StringVar(&paramsPath, "params", app.DefaultParamsPath, "Parameter file")
	cmd.Flags().BoolVar(&noLog, "no-log", false, "Only write scores.json, skip the tracker")

	return cmd
}

func newExperimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "Inspect experiments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTracker(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer t.Close()

			exps, err := t.Store().ListExperiments(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tARTIFACT LOCATION")
			for _, e := range exps {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.ExperimentID, e.Name, e.ArtifactLocation)
			}
			return w.Flush()
		},
	})
	return cmd
}

// resolveExperiment accepts an experiment name or ID
func resolveExperiment(ctx context.Context, store ports.TrackingStore, ref string) (*tracking.Experiment, error) {
	exp, err := store.GetExperimentByName(ctx, ref)
	if err == nil {
		return exp, nil
	}
	if !errors.HasCode(err, errors.CodeNotFound) {
		return nil, err
	}
	return store.GetExperiment(ctx, ref)
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs",
	}

	var experiment string
	var maxResults int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the runs of an experiment, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTracker(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer t.Close()

			exp, err := resolveExperiment(cmd.Context(), t.Store(), experiment)
			if err != nil {
				return err
			}
			runs, err := t.Store().SearchRuns(cmd.Context(), ports.SearchRunsRequest{
				ExperimentIDs: []string{exp.ExperimentID},
				MaxResults:    maxResults,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tNAME\tSTATUS\tSTARTED\tMETRICS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Info.RunID, r.Info.RunName, r.Info.Status, r.Info.StartTime, formatMetrics(r.Data.Metrics))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&experiment, "experiment", tracking.DefaultExperimentID, "Experiment name or ID")
	list.Flags().IntVar(&maxResults, "max-results", 100, "Maximum number of runs")
	cmd.AddCommand(list)
	return cmd
}

func formatMetrics(ms []tracking.Metric) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = fmt.Sprintf("%s=%.4f", m.Key, m.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the tracking database",
		Long: `Apply pending schema migrations to the database named by MLFLOW_TRACKING_URI
(sqlite:// or postgres://) and print the migration status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root, err := artifacts.LocalRootURI(cfg.Tracking.ArtifactRoot)
			if err != nil {
				return err
			}
			store, err := sqlstore.Open(cmd.Context(), cfg.Tracking.URI, root)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := migrations.NewMigrator(store.DB()).Status(cmd.Context())
			if err != nil {
				return errors.WithCode(errors.CodeDatabaseError, err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
			for _, s := range status {
				fmt.Fprintf(w, "%s\t%s\t%t\n", s.Version, s.Name, s.Applied)
			}
			return w.Flush()
		},
	}
}
