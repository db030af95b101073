package pipeline

import (
	"context"
	"log/slog"

	"github.com/EmpoweredVote/hexpulse/internal/arcgis"
	"github.com/EmpoweredVote/hexpulse/internal/businesses"
	"github.com/EmpoweredVote/hexpulse/internal/categories"
	"github.com/EmpoweredVote/hexpulse/internal/complaints"
	"github.com/EmpoweredVote/hexpulse/internal/config"
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/districts"
	"github.com/EmpoweredVote/hexpulse/internal/grid"
	"github.com/EmpoweredVote/hexpulse/internal/population"
	"github.com/EmpoweredVote/hexpulse/internal/scoring"
	"github.com/EmpoweredVote/hexpulse/internal/socrata"
	"github.com/EmpoweredVote/hexpulse/internal/source"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Stage names double as CLI subcommands.
const (
	StageComplaints = "ingest-complaints"
	StageBusinesses = "refresh-businesses"
	StageGrid       = "sync-grid"
	StageCategories = "categories"
	StagePopulation = "apportion-population"
	StageAggregate  = "aggregate-businesses"
	StageScore      = "score"
	StageDistricts  = "district-stats"
)

// FullRun is the order of a complete pipeline run.
var FullRun = []string{
	StageComplaints,
	StageBusinesses,
	StageGrid,
	StageCategories,
	StagePopulation,
	StageAggregate,
	StageDistricts,
	StageScore,
}

// Migrate creates every table the stages use.
func Migrate(d *gorm.DB) error {
	for _, fn := range []func(*gorm.DB) error{
		complaints.AutoMigrate,
		businesses.AutoMigrate,
		grid.AutoMigrate,
		categories.AutoMigrate,
		scoring.AutoMigrate,
		districts.AutoMigrate,
		AutoMigrate,
	} {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

type Options struct {
	// ForcePopulation recomputes population even when the registry already has it.
	ForcePopulation bool
}

// Build wires every stage against the configured upstreams and database.
func Build(cfg config.Config, d *db.DB, runs *GormStore, clock clockwork.Clock, opts Options, log *slog.Logger) []Stage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tries := uint(cfg.BatchRetries) + 1

	sodaFetcher := source.NewFetcher("socrata", cfg.RequestTimeout, cfg.RequestsPerSecond, tries, log)
	soda := socrata.NewClient(cfg.SocrataBaseURL, cfg.AppToken, sodaFetcher)
	arcFetcher := source.NewFetcher("arcgis", cfg.RequestTimeout, cfg.RequestsPerSecond, tries, log)
	arc := arcgis.NewClient(cfg.PopulationURL, []string{cfg.PopulationField, cfg.PopulationName}, arcFetcher)

	complaintStore := complaints.NewStore(d.Gorm)
	registry := grid.NewRegistry(d.Gorm, log)

	return []Stage{
		{
			Name: StageComplaints,
			Gate: GateIngest,
			Run: func(ctx context.Context) (Outcome, error) {
				e := complaints.NewEngine(
					complaints.SocrataSource{Client: soda, Dataset: cfg.ComplaintsDataset},
					complaintStore, cfg.HistoricalStart, cfg.PageSize, uint(cfg.BatchRetries), log)
				res, err := e.Run(ctx)
				return Outcome{Fetched: int64(res.Fetched), Written: res.Inserted, Rejected: int64(res.Rejected)}, err
			},
		},
		{
			Name: StageBusinesses,
			Gate: GateIngest,
			Due: func(ctx context.Context) (bool, error) {
				last, ok, err := runs.LastSuccess(ctx, StageBusinesses)
				if err != nil || !ok {
					return true, err
				}
				return clock.Since(last) >= cfg.BusinessRefresh, nil
			},
			Run: func(ctx context.Context) (Outcome, error) {
				e := businesses.NewEngine(
					businesses.SocrataSource{Client: soda, Dataset: cfg.BusinessesDataset},
					businesses.NewStore(d.Pool), cfg.PageSize, log)
				res, err := e.Run(ctx)
				return Outcome{Fetched: int64(res.Fetched), Written: int64(res.Loaded), Rejected: int64(res.Rejected)}, err
			},
		},
		{
			Name: StageGrid,
			Gate: GatePostProcess,
			Run: func(ctx context.Context) (Outcome, error) {
				n, err := registry.Sync(ctx)
				return Outcome{Written: n}, err
			},
		},
		{
			Name: StageCategories,
			Gate: GatePostProcess,
			Run: func(ctx context.Context) (Outcome, error) {
				catCfg, err := categories.LoadConfig(cfg.CategoryConfig)
				if err != nil {
					return Outcome{}, err
				}
				n, err := categories.NewReconciler(complaintStore, d.Gorm, catCfg, log).Reconcile(ctx)
				return Outcome{Written: n}, err
			},
		},
		{
			Name: StagePopulation,
			Gate: GatePostProcess,
			Run: func(ctx context.Context) (Outcome, error) {
				e := population.NewEngine(registry, arc, cfg.PopulationField, cfg.PopulationName, log)
				e.Force = opts.ForcePopulation
				res, err := e.Run(ctx)
				return Outcome{Fetched: int64(res.Features), Written: res.Written, Rejected: int64(res.Rejected), Skipped: res.Skipped}, err
			},
		},
		{
			Name: StageAggregate,
			Gate: GatePostProcess,
			Run: func(ctx context.Context) (Outcome, error) {
				n, err := registry.AggregateBusinesses(ctx)
				return Outcome{Written: n}, err
			},
		},
		{
			Name: StageDistricts,
			Gate: GatePostProcess,
			Run: func(ctx context.Context) (Outcome, error) {
				n, err := districts.NewService(d.Gorm, log).ComputeStats(ctx)
				return Outcome{Written: n}, err
			},
		},
		{
			Name: StageScore,
			Gate: GateAlways,
			Run: func(ctx context.Context) (Outcome, error) {
				e := scoring.NewEngine(scoring.NewStore(d.Gorm), clock, cfg.DaysToInclude, cfg.ActivityWeight, log)
				res, err := e.Run(ctx)
				return Outcome{Written: res.Written}, err
			},
		},
	}
}
