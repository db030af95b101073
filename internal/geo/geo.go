// Package geo holds the planar geometry used for areal interpolation: an equal-area
// projection and polygon/convex-ring intersection areas.
//
// Geographic degrees are never used for area. Callers project both operands with the same
// EqualArea before measuring.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// authalicRadius is the radius of the sphere with the same surface area as the WGS84
// ellipsoid, in metres.
const authalicRadius = 6371007.181

// EqualArea is a Lambert azimuthal equal-area projection centred on a reference point.
// Output coordinates are metres.
type EqualArea struct {
	lon0, sinLat0, cosLat0 float64
}

// NewEqualArea returns a projection centred on center (lon, lat).
func NewEqualArea(center orb.Point) EqualArea {
	lat0 := center.Lat() * math.Pi / 180
	return EqualArea{
		lon0:    center.Lon() * math.Pi / 180,
		sinLat0: math.Sin(lat0),
		cosLat0: math.Cos(lat0),
	}
}

// ForBound centres the projection on the middle of b.
func ForBound(b orb.Bound) EqualArea {
	return NewEqualArea(b.Center())
}

// Project maps a (lon, lat) point to planar metres.
func (p EqualArea) Project(pt orb.Point) orb.Point {
	lat := pt.Lat() * math.Pi / 180
	dlon := pt.Lon()*math.Pi/180 - p.lon0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	cosDlon := math.Cos(dlon)

	denom := 1 + p.sinLat0*sinLat + p.cosLat0*cosLat*cosDlon
	if denom <= 0 {
		// antipode of the centre; not reachable for city-scale extents
		return orb.Point{math.Inf(1), math.Inf(1)}
	}
	k := math.Sqrt(2 / denom)
	return orb.Point{
		authalicRadius * k * cosLat * math.Sin(dlon),
		authalicRadius * k * (p.cosLat0*sinLat - p.sinLat0*cosLat*cosDlon),
	}
}

func (p EqualArea) ProjectRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		out[i] = p.Project(pt)
	}
	return out
}

func (p EqualArea) ProjectPolygon(poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		out[i] = p.ProjectRing(r)
	}
	return out
}

func (p EqualArea) ProjectMultiPolygon(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = p.ProjectPolygon(poly)
	}
	return out
}

// Area returns the planar area of a (projected) multipolygon, holes subtracted.
func Area(mp orb.MultiPolygon) float64 {
	var total float64
	for _, poly := range mp {
		total += polygonArea(poly)
	}
	return total
}

func polygonArea(poly orb.Polygon) float64 {
	if len(poly) == 0 {
		return 0
	}
	a := ringArea(poly[0])
	for _, hole := range poly[1:] {
		a -= ringArea(hole)
	}
	return math.Max(a, 0)
}

func ringArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	return math.Abs(planar.Area(closed(r)))
}

// IntersectionArea returns the area of mp ∩ clip. clip must be convex (hex cells are).
// Holes are handled by subtracting their own intersection with clip.
func IntersectionArea(mp orb.MultiPolygon, clip orb.Ring) float64 {
	cb := clip.Bound()
	var total float64
	for _, poly := range mp {
		if len(poly) == 0 || !poly[0].Bound().Intersects(cb) {
			continue
		}
		a := ringArea(ClipRing(poly[0], clip))
		for _, hole := range poly[1:] {
			if hole.Bound().Intersects(cb) {
				a -= ringArea(ClipRing(hole, clip))
			}
		}
		if a > 0 {
			total += a
		}
	}
	return total
}

// ClipRing clips subject against the convex ring clip (Sutherland–Hodgman). The result
// is open; a concave subject may produce zero-width bridges, which carry no area.
func ClipRing(subject, clip orb.Ring) orb.Ring {
	out := open(subject)
	edges := open(clip)
	if len(out) < 3 || len(edges) < 3 {
		return nil
	}
	ccw := closed(edges).Orientation() != orb.CW

	for i := range edges {
		a, b := edges[i], edges[(i+1)%len(edges)]
		in := out
		out = make(orb.Ring, 0, len(in)+2)
		if len(in) == 0 {
			break
		}
		prev := in[len(in)-1]
		prevIn := inside(a, b, prev, ccw)
		for _, cur := range in {
			curIn := inside(a, b, cur, ccw)
			switch {
			case curIn && !prevIn:
				out = append(out, crossing(prev, cur, a, b), cur)
			case curIn:
				out = append(out, cur)
			case prevIn:
				out = append(out, crossing(prev, cur, a, b))
			}
			prev, prevIn = cur, curIn
		}
	}
	return out
}

func inside(a, b, p orb.Point, ccw bool) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if ccw {
		return cross >= 0
	}
	return cross <= 0
}

// crossing returns the intersection of segment pq with the infinite line ab.
func crossing(p, q, a, b orb.Point) orb.Point {
	dx, dy := q[0]-p[0], q[1]-p[1]
	ex, ey := b[0]-a[0], b[1]-a[1]
	denom := dx*ey - dy*ex
	if denom == 0 {
		return q
	}
	t := ((a[0]-p[0])*ey - (a[1]-p[1])*ex) / denom
	return orb.Point{p[0] + t*dx, p[1] + t*dy}
}

func open(r orb.Ring) orb.Ring {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func closed(r orb.Ring) orb.Ring {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r
	}
	out := make(orb.Ring, len(r)+1)
	copy(out, r)
	out[len(r)] = r[0]
	return out
}
