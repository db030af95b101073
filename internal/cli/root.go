// Package cli is the hexpulse command line: one subcommand per pipeline stage plus a full run.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/config"
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/metrics"
	"github.com/EmpoweredVote/hexpulse/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ExitCode int

const (
	ExitSuccess ExitCode = 0
	ExitError   ExitCode = 1
)

type app struct {
	verbose bool
	log     *slog.Logger
	cfg     config.Config
}

// Run executes the command line in args and reports how the process should exit.
func Run(ctx context.Context, args []string) ExitCode {
	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return ExitError
	}
	return ExitSuccess
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "hexpulse",
		Short:        "Ingest NYC 311 complaints and business licenses onto an H3 grid and score each cell.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = newLogger(a.verbose)
			cfg, err := config.LoadFromEnv()
			if err != nil {
				a.log.Error("invalid configuration", "error", err)
				return err
			}
			applyFlags(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				a.log.Error("invalid configuration", "error", err)
				return err
			}
			a.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "set debug logging level")
	pf.String("database-url", "", "Postgres/PostGIS DSN (overrides DATABASE_URL)")
	pf.Int("page-size", 0, "upstream page size (overrides PAGE_SIZE)")
	pf.Int("days", 0, "scoring window in days (overrides DAYS_TO_INCLUDE)")
	pf.Float64("activity-weight", 0, "per-business activity multiplier (overrides ACTIVITY_WEIGHT)")
	pf.String("category-config", "", "category mapping file (overrides CATEGORY_CONFIG)")
	pf.String("pushgateway", "", "pushgateway URL (overrides PUSHGATEWAY_URL)")

	root.AddCommand(
		a.runCmd(),
		a.stageCmd(pipeline.StageComplaints, "Fetch 311 complaints created since the stored watermark."),
		a.stageCmd(pipeline.StageBusinesses, "Replace the active premises license snapshot."),
		a.stageCmd(pipeline.StageGrid, "Register every observed hex cell."),
		a.stageCmd(pipeline.StageCategories, "Map stored complaint types onto display categories."),
		a.populationCmd(),
		a.stageCmd(pipeline.StageAggregate, "Recount businesses per hex cell."),
		a.stageCmd(pipeline.StageScore, "Compute today's impact score for every hex cell."),
		a.stageCmd(pipeline.StageDistricts, "Rebuild community district complaint density."),
		a.historyCmd(),
	)
	return root
}

func (a *app) runCmd() *cobra.Command {
	var force, forcePopulation bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStages(cmd.Context(), force, pipeline.Options{ForcePopulation: forcePopulation}, pipeline.FullRun...)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run every stage even when nothing new was ingested")
	cmd.Flags().BoolVar(&forcePopulation, "force-population", false, "recompute population even when already apportioned")
	return cmd
}

// stageCmd runs a single stage unconditionally.
func (a *app) stageCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStages(cmd.Context(), true, pipeline.Options{}, name)
		},
	}
}

func (a *app) populationCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   pipeline.StagePopulation,
		Short: "Apportion neighbourhood population onto the hex registry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStages(cmd.Context(), true, pipeline.Options{ForcePopulation: force}, pipeline.StagePopulation)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "recompute even when the registry already holds population")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent stage runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			runs, err := pipeline.NewStore(d.Gorm).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of stage runs to show")
	return cmd
}

func (a *app) open(ctx context.Context) (*db.DB, error) {
	d, err := db.Connect(ctx, a.cfg.DatabaseURL, a.verbose)
	if err != nil {
		a.log.Error("could not connect to database", "error", err)
		return nil, err
	}
	if err := db.EnsurePostGIS(d.Gorm); err != nil {
		d.Close()
		return nil, fmt.Errorf("enable postgis: %w", err)
	}
	if err := pipeline.Migrate(d.Gorm); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (a *app) runStages(ctx context.Context, force bool, opts pipeline.Options, names ...string) error {
	d, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	clock := clockwork.NewRealClock()
	runs := pipeline.NewStore(d.Gorm)
	stages, err := pipeline.Select(pipeline.Build(a.cfg, d, runs, clock, opts, a.log), names...)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(runs, clock, a.log)
	runner.Force = force

	_, runErr := runner.Run(ctx, stages)
	if err := metrics.Push(context.WithoutCancel(ctx), a.cfg.PushgatewayURL); err != nil {
		a.log.Warn("could not push metrics", "error", err)
	}
	return runErr
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("database-url") {
		cfg.DatabaseURL, _ = fs.GetString("database-url")
	}
	if fs.Changed("page-size") {
		cfg.PageSize, _ = fs.GetInt("page-size")
	}
	if fs.Changed("days") {
		cfg.DaysToInclude, _ = fs.GetInt("days")
	}
	if fs.Changed("activity-weight") {
		cfg.ActivityWeight, _ = fs.GetFloat64("activity-weight")
	}
	if fs.Changed("category-config") {
		cfg.CategoryConfig, _ = fs.GetString("category-config")
	}
	if fs.Changed("pushgateway") {
		cfg.PushgatewayURL, _ = fs.GetString("pushgateway")
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
