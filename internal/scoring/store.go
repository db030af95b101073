package scoring

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertChunk = 1000

type GormStore struct {
	db *gorm.DB
}

func NewStore(d *gorm.DB) *GormStore {
	return &GormStore{db: d}
}

func (s *GormStore) Inputs(ctx context.Context, since time.Time) ([]Input, error) {
	var out []Input
	err := s.db.WithContext(ctx).Raw(`
		WITH recent AS (
			SELECT cell_id, COUNT(*) AS complaint_count
			FROM hexpulse.complaints
			WHERE created_date >= ? AND cell_id IS NOT NULL
			GROUP BY cell_id
		)
		SELECT h.cell_id, h.population, h.business_count, COALESCE(r.complaint_count, 0) AS complaint_count
		FROM hexpulse.hex_cells h
		LEFT JOIN recent r ON r.cell_id = h.cell_id
		ORDER BY h.cell_id
	`, since).Scan(&out).Error
	return out, err
}

func (s *GormStore) Upsert(ctx context.Context, stats []DailyStat) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cell_id"}, {Name: "stats_date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"complaint_count", "base_impact_score", "activity_score", "final_impact_score",
			}),
		}).CreateInBatches(&stats, upsertChunk)
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
