package complaints

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertChunk = 1000

// GormStore is the Postgres Store.
type GormStore struct {
	db *gorm.DB
}

func NewStore(d *gorm.DB) *GormStore {
	return &GormStore{db: d}
}

func (s *GormStore) LatestCreated(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullTime
	if err := s.db.WithContext(ctx).Model(&Row{}).Select("MAX(created_date)").Row().Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

// InsertBatch inserts the batch in one transaction. Keys that already exist are skipped.
func (s *GormStore) InsertBatch(ctx context.Context, batch []Complaint) (int64, error) {
	rows := make([]Row, len(batch))
	for i, c := range batch {
		rows[i] = toRow(c)
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unique_key"}},
			DoNothing: true,
		}).CreateInBatches(&rows, insertChunk)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// DistinctTypes lists every complaint type in storage.
func (s *GormStore) DistinctTypes(ctx context.Context) ([]string, error) {
	var types []string
	err := s.db.WithContext(ctx).Model(&Row{}).
		Where("complaint_type <> ''").
		Distinct().
		Order("complaint_type").
		Pluck("complaint_type", &types).Error
	return types, err
}
