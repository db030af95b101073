package arcgis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	ErrNoGeometry     = errors.New("arcgis: feature has no geometry")
	ErrNotPolygonal   = errors.New("arcgis: geometry is not polygonal")
	ErrDegenerateRing = errors.New("arcgis: geometry has no usable rings")
)

type esriGeometry struct {
	Rings  [][][]float64   `json:"rings"`
	Paths  json.RawMessage `json:"paths"`
	Points json.RawMessage `json:"points"`
	X      *float64        `json:"x"`
}

// ParsePolygon converts an Esri JSON geometry into a multipolygon. Rings are grouped by
// containment rather than winding order, so both the Esri convention (clockwise shells) and
// reversed producers parse the same. Point and polyline geometries are rejected.
func ParsePolygon(raw json.RawMessage) (orb.MultiPolygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoGeometry
	}
	var g esriGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("arcgis: decode geometry: %w", err)
	}
	if g.Rings == nil {
		if g.Paths != nil || g.Points != nil || g.X != nil {
			return nil, ErrNotPolygonal
		}
		return nil, ErrNoGeometry
	}

	type shell struct {
		ring orb.Ring
		area float64
	}
	var rings []shell
	for i, coords := range g.Rings {
		r, err := toRing(coords)
		if err != nil {
			return nil, fmt.Errorf("arcgis: ring %d: %w", i, err)
		}
		a := math.Abs(planar.Area(r))
		if a == 0 {
			continue
		}
		rings = append(rings, shell{ring: r, area: a})
	}
	if len(rings) == 0 {
		return nil, ErrDegenerateRing
	}

	// Largest first, so every ring's container has already been placed. Polygons are then
	// searched newest first so an island inside a hole claims its own holes.
	sort.SliceStable(rings, func(i, j int) bool { return rings[i].area > rings[j].area })

	var mp orb.MultiPolygon
	for _, s := range rings {
		placed := false
		for pi := len(mp) - 1; pi >= 0; pi-- {
			if !planar.RingContains(mp[pi][0], s.ring[0]) {
				continue
			}
			inHole := false
			for _, hole := range mp[pi][1:] {
				if planar.RingContains(hole, s.ring[0]) {
					inHole = true
					break
				}
			}
			if !inHole {
				mp[pi] = append(mp[pi], s.ring)
				placed = true
			}
			break
		}
		if !placed {
			mp = append(mp, orb.Polygon{s.ring})
		}
	}
	return mp, nil
}

func toRing(coords [][]float64) (orb.Ring, error) {
	r := make(orb.Ring, 0, len(coords)+1)
	for _, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("vertex has %d ordinates", len(c))
		}
		x, y := c[0], c[1]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return nil, errors.New("non-finite vertex")
		}
		r = append(r, orb.Point{x, y})
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	if len(r) < 4 {
		return nil, fmt.Errorf("ring has %d vertices", len(r))
	}
	return r, nil
}
