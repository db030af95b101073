package categories

import (
	"context"
	"log/slog"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ComplaintCategory struct {
	ComplaintType string `gorm:"primaryKey;column:complaint_type"`
	Category      string `gorm:"not null;index;column:category"`
	SortOrder     int    `gorm:"not null;column:sort_order"`
}

func (ComplaintCategory) TableName() string { return db.Table("complaint_categories") }

func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	return d.AutoMigrate(&ComplaintCategory{})
}

// TypeLister lists the distinct complaint types in storage.
type TypeLister interface {
	DistinctTypes(ctx context.Context) ([]string, error)
}

type Reconciler struct {
	Types  TypeLister
	db     *gorm.DB
	config Config
	log    *slog.Logger
}

func NewReconciler(types TypeLister, d *gorm.DB, cfg Config, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{Types: types, db: d, config: cfg, log: log.With("component", "categories")}
}

// Reconcile upserts a mapping row for every stored complaint type. Existing rows are
// updated so mapping edits take effect on the next run.
func (r *Reconciler) Reconcile(ctx context.Context) (int64, error) {
	types, err := r.Types.DistinctTypes(ctx)
	if err != nil {
		return 0, errs.Storage("list complaint types", err)
	}
	mappings := r.config.Resolve(types)
	if len(mappings) == 0 {
		r.log.Info("no complaint types to categorize")
		return 0, nil
	}

	rows := make([]ComplaintCategory, len(mappings))
	unmapped := 0
	for i, m := range mappings {
		rows[i] = ComplaintCategory{ComplaintType: m.ComplaintType, Category: m.Category, SortOrder: m.SortOrder}
		if m.Category == DefaultCategory {
			unmapped++
		}
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "complaint_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "sort_order"}),
	}).Create(&rows)
	if res.Error != nil {
		return 0, errs.Storage("upsert complaint categories", res.Error)
	}
	r.log.Info("category mappings updated", "types", len(rows), "unmapped", unmapped)
	return res.RowsAffected, nil
}
