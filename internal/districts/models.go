// Package districts loads community district boundaries and computes per-district complaint
// density by complaint type.
package districts

import (
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"gorm.io/gorm"
)

// District is a community district boundary keyed by its borough/district code (e.g. "101").
type District struct {
	BoroCD   string `gorm:"primaryKey;column:boro_cd"`
	Geometry string `gorm:"type:geometry(MultiPolygon,4326);not null;column:geometry"`
}

func (District) TableName() string { return db.Table("community_districts") }

type Stat struct {
	BoroCD         string  `gorm:"primaryKey;column:boro_cd"`
	ComplaintType  string  `gorm:"primaryKey;column:complaint_type"`
	ComplaintCount int64   `gorm:"not null;column:complaint_count"`
	DensityPerSqKm float64 `gorm:"not null;column:density_per_sq_km"`
}

func (Stat) TableName() string { return db.Table("community_district_stats") }

func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	if err := d.AutoMigrate(&District{}, &Stat{}); err != nil {
		return err
	}
	return d.Exec(`CREATE INDEX IF NOT EXISTS community_districts_geometry_gist ON hexpulse.community_districts USING GIST (geometry)`).Error
}
