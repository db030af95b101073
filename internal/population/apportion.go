package population

import (
	"math"

	"github.com/EmpoweredVote/hexpulse/internal/geo"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
)

// minOverlapArea is the smallest intersection, in square metres, treated as real overlap.
// Clipping along a shared hex edge leaves slivers around 1e-10 m².
const minOverlapArea = 1e-6

// Area is a population-bearing source polygon in (lon, lat).
type Area struct {
	Name       string
	Population float64
	Geometry   orb.MultiPolygon
}

// CellShape is a grid cell with its (lon, lat) boundary.
type CellShape struct {
	Cell     hexgrid.Cell
	Boundary orb.Ring
}

// Apportion distributes each area's population over the cells it overlaps, in proportion
// to overlap area, and rounds per cell. Only cells with a positive result are returned.
func Apportion(cells []CellShape, areas []Area) map[hexgrid.Cell]int {
	sums := apportionRaw(cells, areas)
	out := make(map[hexgrid.Cell]int, len(sums))
	for c, v := range sums {
		if n := roundPopulation(v); n > 0 {
			out[c] = n
		}
	}
	return out
}

func apportionRaw(cells []CellShape, areas []Area) map[hexgrid.Cell]float64 {
	if len(cells) == 0 || len(areas) == 0 {
		return nil
	}

	var extent orb.Bound
	first := true
	for _, a := range areas {
		if len(a.Geometry) == 0 {
			continue
		}
		if first {
			extent, first = a.Geometry.Bound(), false
		} else {
			extent = extent.Union(a.Geometry.Bound())
		}
	}
	if first {
		return nil
	}
	proj := geo.ForBound(extent)

	type projectedCell struct {
		cell  hexgrid.Cell
		ring  orb.Ring
		bound orb.Bound
	}
	pcells := make([]projectedCell, 0, len(cells))
	for _, c := range cells {
		r := proj.ProjectRing(c.Boundary)
		pcells = append(pcells, projectedCell{cell: c.Cell, ring: r, bound: r.Bound()})
	}

	sums := map[hexgrid.Cell]float64{}
	for _, a := range areas {
		if a.Population <= 0 || len(a.Geometry) == 0 {
			continue
		}
		mp := proj.ProjectMultiPolygon(a.Geometry)
		area := geo.Area(mp)
		if area <= 0 {
			continue
		}
		density := a.Population / area
		ab := mp.Bound()

		for _, pc := range pcells {
			if !ab.Intersects(pc.bound) {
				continue
			}
			overlap := geo.IntersectionArea(mp, pc.ring)
			if overlap < minOverlapArea {
				continue
			}
			sums[pc.cell] += density * overlap
		}
	}
	return sums
}

// roundPopulation rounds x half away from zero, except that any 0 < x < 1 becomes 1 so a
// populated edge cell never reads as empty.
func roundPopulation(x float64) int {
	if x > 0 && x < 1 {
		return 1
	}
	return int(math.Round(x))
}
