package districts

import (
	"context"

	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"gorm.io/gorm"
)

// ComputeStats rebuilds community_district_stats from the stored complaints. The table is
// replaced in one transaction; readers see either the old or the new stats.
func (s *Service) ComputeStats(ctx context.Context) (int64, error) {
	var written int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM hexpulse.community_district_stats`).Error; err != nil {
			return err
		}
		q := tx.Exec(`
			INSERT INTO hexpulse.community_district_stats (boro_cd, complaint_type, complaint_count, density_per_sq_km)
			SELECT
				d.boro_cd,
				c.complaint_type,
				COUNT(c.unique_key),
				COUNT(c.unique_key) / (ST_Area(d.geometry::geography) / 1000000.0)
			FROM hexpulse.community_districts d
			JOIN hexpulse.complaints c ON ST_Contains(d.geometry, c.location)
			WHERE c.complaint_type <> '' AND ST_Area(d.geometry::geography) > 0
			GROUP BY d.boro_cd, c.complaint_type, d.geometry
		`)
		written = q.RowsAffected
		return q.Error
	})
	if err != nil {
		return 0, errs.Storage("compute district stats", err)
	}
	s.log.Info("district stats computed", "rows", written)
	return written, nil
}
