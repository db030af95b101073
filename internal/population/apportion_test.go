package population

import (
	"testing"

	"github.com/EmpoweredVote/hexpulse/internal/geo"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(minLon, minLat, size float64) orb.Ring {
	return orb.Ring{
		{minLon, minLat},
		{minLon + size, minLat},
		{minLon + size, minLat + size},
		{minLon, minLat + size},
		{minLon, minLat},
	}
}

func TestApportion_EvenSplit(t *testing.T) {
	const s = 0.01
	cells := []CellShape{
		{Cell: "a", Boundary: square(-74.00, 40.70, s)},
		{Cell: "b", Boundary: square(-73.99, 40.70, s)},
		{Cell: "c", Boundary: square(-74.00, 40.71, s)},
		{Cell: "d", Boundary: square(-73.99, 40.71, s)},
		{Cell: "far", Boundary: square(-73.50, 40.70, s)},
	}
	areas := []Area{{Name: "block", Population: 400, Geometry: orb.MultiPolygon{{square(-74.00, 40.70, 2*s)}}}}

	got := Apportion(cells, areas)
	assert.Equal(t, map[hexgrid.Cell]int{"a": 100, "b": 100, "c": 100, "d": 100}, got)
}

func TestApportion_SumsAcrossSources(t *testing.T) {
	cells := []CellShape{{Cell: "a", Boundary: square(-74.00, 40.70, 0.01)}}
	areas := []Area{
		{Population: 30, Geometry: orb.MultiPolygon{{square(-74.00, 40.70, 0.01)}}},
		{Population: 12, Geometry: orb.MultiPolygon{{square(-74.00, 40.70, 0.01)}}},
	}
	assert.Equal(t, map[hexgrid.Cell]int{"a": 42}, Apportion(cells, areas))
}

func TestApportion_NoEraseSliver(t *testing.T) {
	const s = 0.01
	cells := []CellShape{
		{Cell: "main", Boundary: square(-74.00, 40.70, s)},
		{Cell: "edge", Boundary: square(-73.99, 40.70, s)},
	}
	// Covers "main" fully and 1% of "edge".
	src := orb.Ring{{-74.00, 40.70}, {-73.9899, 40.70}, {-73.9899, 40.71}, {-74.00, 40.71}, {-74.00, 40.70}}
	got := Apportion(cells, []Area{{Population: 50, Geometry: orb.MultiPolygon{{src}}}})

	assert.Equal(t, 1, got["edge"], "fractional share rounds up to one person")
	assert.Equal(t, 50, got["main"])
}

func TestApportion_MillimetreOverlapStillCounts(t *testing.T) {
	const s = 0.01
	cells := []CellShape{
		{Cell: "main", Boundary: square(-74.00, 40.70, s)},
		{Cell: "edge", Boundary: square(-73.99, 40.70, s)},
	}
	// A notch about 4 mm deep and 2 cm tall pokes across the shared edge at its corner.
	src := orb.Ring{
		{-74.00, 40.70}, {-73.99, 40.70},
		{-73.98999995, 40.7000001}, {-73.99, 40.7000002},
		{-73.99, 40.71}, {-74.00, 40.71}, {-74.00, 40.70},
	}
	proj := geo.ForBound(src.Bound())
	overlap := geo.IntersectionArea(proj.ProjectMultiPolygon(orb.MultiPolygon{{src}}), proj.ProjectRing(cells[1].Boundary))
	require.Positive(t, overlap)
	require.Less(t, overlap, 1e-4, "overlap is under a square centimetre")

	got := Apportion(cells, []Area{{Population: 5000, Geometry: orb.MultiPolygon{{src}}}})
	assert.Equal(t, 1, got["edge"], "overlap of %g m² must not be erased", overlap)
	assert.Equal(t, 5000, got["main"])
}

func TestApportion_HolesCarryNoPopulation(t *testing.T) {
	const s = 0.01
	cells := []CellShape{
		{Cell: "ring", Boundary: square(-74.00, 40.70, s)},
		{Cell: "hole", Boundary: square(-73.99, 40.70, s)},
	}
	shell := orb.Ring{{-74.00, 40.70}, {-73.98, 40.70}, {-73.98, 40.71}, {-74.00, 40.71}, {-74.00, 40.70}}
	got := Apportion(cells, []Area{{Population: 80, Geometry: orb.MultiPolygon{{shell, square(-73.99, 40.70, s)}}}})
	assert.Equal(t, map[hexgrid.Cell]int{"ring": 80}, got)
}

func TestApportion_IgnoresUnpopulatedAndEmpty(t *testing.T) {
	cells := []CellShape{{Cell: "a", Boundary: square(-74.00, 40.70, 0.01)}}
	poly := orb.MultiPolygon{{square(-74.00, 40.70, 0.01)}}

	assert.Empty(t, Apportion(cells, []Area{{Population: 0, Geometry: poly}, {Population: -5, Geometry: poly}}))
	assert.Empty(t, Apportion(nil, []Area{{Population: 10, Geometry: poly}}))
	assert.Empty(t, Apportion(cells, nil))
	assert.Empty(t, Apportion(cells, []Area{{Population: 10}}))
}

func TestRoundPopulation(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{1e-9, 1},
		{0.4, 1},
		{0.999, 1},
		{1, 1},
		{1.49, 1},
		{1.5, 2},
		{2.5, 3},
		{99.5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roundPopulation(tt.in), "round(%v)", tt.in)
	}
}

// coveringCells returns every resolution-9 cell that can intersect b, found by sampling a
// grid over b grown by more than a cell diameter.
func coveringCells(t *testing.T, b orb.Bound) []CellShape {
	t.Helper()
	const pad, step = 0.006, 0.0002
	seen := map[hexgrid.Cell]bool{}
	var out []CellShape
	for lat := b.Min.Lat() - pad; lat <= b.Max.Lat()+pad; lat += step {
		for lon := b.Min.Lon() - pad; lon <= b.Max.Lon()+pad; lon += step {
			c, err := hexgrid.PointToCell(lat, lon, hexgrid.Resolution)
			require.NoError(t, err)
			if seen[c] {
				continue
			}
			seen[c] = true
			ring, err := hexgrid.CellToBoundary(c)
			require.NoError(t, err)
			out = append(out, CellShape{Cell: c, Boundary: ring})
		}
	}
	return out
}

func TestApportion_ConservationOnHexGrid(t *testing.T) {
	src := orb.Ring{{-73.990, 40.730}, {-73.983, 40.730}, {-73.983, 40.7355}, {-73.990, 40.7355}, {-73.990, 40.730}}
	const population = 10000.0
	cells := coveringCells(t, src.Bound())
	areas := []Area{{Name: "synthetic", Population: population, Geometry: orb.MultiPolygon{{src}}}}

	got := Apportion(cells, areas)
	require.NotEmpty(t, got)

	var sum int
	for _, p := range got {
		sum += p
	}
	n := len(got)
	assert.LessOrEqual(t, float64(sum), population+float64(n))
	assert.GreaterOrEqual(t, float64(sum), population-float64(n))

	// Every cell that overlaps the source reports at least one person.
	proj := geo.ForBound(src.Bound())
	mp := proj.ProjectMultiPolygon(orb.MultiPolygon{{src}})
	for _, c := range cells {
		overlap := geo.IntersectionArea(mp, proj.ProjectRing(c.Boundary))
		if overlap >= minOverlapArea {
			assert.GreaterOrEqual(t, got[c.Cell], 1, "cell %s overlaps by %.2f m²", c.Cell, overlap)
		} else {
			assert.NotContains(t, got, c.Cell)
		}
	}
}

func TestApportion_CellMatchingSourceGetsAll(t *testing.T) {
	center, err := hexgrid.PointToCell(40.7128, -74.0060, hexgrid.Resolution)
	require.NoError(t, err)
	ring, err := hexgrid.CellToBoundary(center)
	require.NoError(t, err)

	cells := coveringCells(t, ring.Bound())
	got := Apportion(cells, []Area{{Population: 1234, Geometry: orb.MultiPolygon{{ring}}}})
	assert.Equal(t, map[hexgrid.Cell]int{center: 1234}, got, "shared edges are not overlap")
}
