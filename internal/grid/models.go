package grid

import (
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"gorm.io/gorm"
)

// HexCell is a registry entry. Geometry is derived from CellID and never fetched.
type HexCell struct {
	CellID        string `gorm:"primaryKey;column:cell_id"`
	Geometry      string `gorm:"type:geometry(Polygon,4326);not null;column:geometry"`
	Population    int    `gorm:"not null;default:0;column:population"`
	BusinessCount int    `gorm:"not null;default:0;column:business_count"`
}

func (HexCell) TableName() string { return db.Table("hex_cells") }

func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	if err := d.AutoMigrate(&HexCell{}); err != nil {
		return err
	}
	return d.Exec(`CREATE INDEX IF NOT EXISTS hex_cells_geometry_gist ON hexpulse.hex_cells USING GIST (geometry)`).Error
}
