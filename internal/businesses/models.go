package businesses

import (
	"fmt"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
	"gorm.io/gorm"
)

const (
	liveTable    = "businesses"
	stagingTable = "businesses_staging"
	oldTable     = "businesses_old"
)

// Business is one active premises license.
type Business struct {
	LicenseNbr string
	Point      orb.Point
	Cell       hexgrid.Cell
}

// Row is the stored form of a Business.
type Row struct {
	LicenseNbr string `gorm:"primaryKey;column:license_nbr"`
	Location   string `gorm:"type:geometry(Point,4326);column:location"`
	CellID     string `gorm:"column:cell_id"`
}

func (Row) TableName() string { return db.Table(liveTable) }

// tableDDL creates a businesses-shaped table. Staging and live share it so the swap never
// changes structure, and constraint and index names are derived from the table name so they
// can be renamed back after a swap.
func tableDDL(name string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			license_nbr text NOT NULL,
			location    geometry(Point,4326) NOT NULL,
			cell_id     text NOT NULL,
			CONSTRAINT %s_pkey PRIMARY KEY (license_nbr)
		)`, db.Schema, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_cell_id_idx ON %s.%s (cell_id)`, name, db.Schema, name),
	}
}

// AutoMigrate creates the live businesses table. It is not left to gorm's migrator because
// the table is replaced by rename on every refresh.
func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	for _, stmt := range tableDDL(liveTable) {
		if err := d.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
