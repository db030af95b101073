package grid

import (
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
)

func ringPolygon(r orb.Ring) orb.Polygon {
	return orb.Polygon{r}
}

// CellPolygon returns the registry geometry for c.
func CellPolygon(c hexgrid.Cell) (orb.Polygon, error) {
	r, err := hexgrid.CellToBoundary(c)
	if err != nil {
		return nil, err
	}
	return ringPolygon(r), nil
}
