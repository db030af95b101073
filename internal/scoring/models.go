package scoring

import (
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"gorm.io/gorm"
)

// DailyStat is one cell's score for one calendar date.
type DailyStat struct {
	CellID           string    `gorm:"primaryKey;column:cell_id"`
	StatsDate        time.Time `gorm:"primaryKey;type:date;column:stats_date"`
	ComplaintCount   int       `gorm:"not null;column:complaint_count"`
	BaseImpactScore  float64   `gorm:"not null;column:base_impact_score"`
	ActivityScore    float64   `gorm:"not null;column:activity_score"`
	FinalImpactScore float64   `gorm:"not null;column:final_impact_score"`
}

func (DailyStat) TableName() string { return db.Table("hex_daily_stats") }

func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	return d.AutoMigrate(&DailyStat{})
}
