package complaints

import (
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
	"gorm.io/gorm"
)

// Complaint is a cleaned service request. Point and Cell are both nil when the upstream
// record carried no usable coordinates.
type Complaint struct {
	UniqueKey     string
	CreatedDate   *time.Time
	ClosedDate    *time.Time
	Agency        string
	ComplaintType string
	Descriptor    string
	Point         *orb.Point
	Cell          *hexgrid.Cell
}

// Row is the stored form of a Complaint. Rows are never updated after the first insert.
type Row struct {
	UniqueKey     string     `gorm:"primaryKey;column:unique_key"`
	CreatedDate   *time.Time `gorm:"type:timestamp;index;column:created_date"`
	ClosedDate    *time.Time `gorm:"type:timestamp;column:closed_date"`
	Agency        string     `gorm:"column:agency"`
	ComplaintType string     `gorm:"index;column:complaint_type"`
	Descriptor    string     `gorm:"column:descriptor"`

	// EWKT on write
	Location *string `gorm:"type:geometry(Point,4326);column:location"`
	CellID   *string `gorm:"index;column:cell_id"`
}

func (Row) TableName() string { return db.Table("complaints") }

func toRow(c Complaint) Row {
	r := Row{
		UniqueKey:     c.UniqueKey,
		CreatedDate:   c.CreatedDate,
		ClosedDate:    c.ClosedDate,
		Agency:        c.Agency,
		ComplaintType: c.ComplaintType,
		Descriptor:    c.Descriptor,
	}
	if c.Point != nil {
		loc := db.PointEWKT(*c.Point)
		r.Location = &loc
	}
	if c.Cell != nil {
		id := c.Cell.String()
		r.CellID = &id
	}
	return r
}

// AutoMigrate creates the complaints table.
func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	return d.AutoMigrate(&Row{})
}
