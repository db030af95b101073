// Package hexgrid maps geographic points onto the H3 hexagonal grid used by every table in
// the pipeline, and maps cell identifiers back to their boundary polygons.
//
// The grid runs at a single resolution system-wide. Cell identifiers are carried as the
// canonical 15-character lowercase H3 token; packed integers only appear at the storage
// boundary through Cell.Uint64 and CellFromUint64.
package hexgrid

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"
)

// Resolution is the only resolution the pipeline indexes at. Resolution 9 cells average
// roughly 0.1 km².
const Resolution = 9

var (
	ErrInvalidCell        = errors.New("hexgrid: invalid cell")
	ErrInvalidPoint       = errors.New("hexgrid: invalid point")
	ErrResolutionMismatch = errors.New("hexgrid: resolution mismatch")
)

// Cell is a validated H3 cell at Resolution.
type Cell string

func (c Cell) String() string { return string(c) }

// Uint64 returns the packed integer form of the cell.
func (c Cell) Uint64() uint64 { return h3.IndexFromString(string(c)) }

// ParseCell validates s as an H3 cell token at Resolution. Upper-case hex is accepted and
// normalised.
func ParseCell(s string) (Cell, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 0 || len(s) > 16 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidCell, s)
		}
	}
	return fromH3(h3.Cell(h3.IndexFromString(s)), s)
}

// CellFromUint64 converts a packed integer cell id into its canonical token.
func CellFromUint64(v uint64) (Cell, error) {
	return fromH3(h3.Cell(v), fmt.Sprintf("%#x", v))
}

func fromH3(hc h3.Cell, raw string) (Cell, error) {
	if !hc.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidCell, raw)
	}
	if r := hc.Resolution(); r != Resolution {
		return "", fmt.Errorf("%w: cell %s is resolution %d, want %d", ErrResolutionMismatch, raw, r, Resolution)
	}
	return Cell(hc.String()), nil
}

// PointToCell returns the cell containing (lat, lon). res must equal Resolution; any other
// value is rejected rather than silently mixing resolutions.
func PointToCell(lat, lon float64, res int) (Cell, error) {
	if res != Resolution {
		return "", fmt.Errorf("%w: got %d, want %d", ErrResolutionMismatch, res, Resolution)
	}
	if !validLatLon(lat, lon) {
		return "", fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidPoint, lat, lon)
	}
	hc := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if !hc.IsValid() {
		return "", fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidPoint, lat, lon)
	}
	return Cell(hc.String()), nil
}

// CellToBoundary returns the closed (lon, lat) ring of c with the first vertex repeated as
// the last.
func CellToBoundary(c Cell) (orb.Ring, error) {
	hc := h3.Cell(h3.IndexFromString(string(c)))
	if !hc.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCell, string(c))
	}
	verts := hc.Boundary()
	if len(verts) < 3 {
		return nil, fmt.Errorf("%w: %q has %d vertices", ErrInvalidCell, string(c), len(verts))
	}
	ring := make(orb.Ring, 0, len(verts)+1)
	for _, v := range verts {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
	}
	return append(ring, ring[0]), nil
}

// Center returns the (lon, lat) centroid of c.
func Center(c Cell) (orb.Point, error) {
	hc := h3.Cell(h3.IndexFromString(string(c)))
	if !hc.IsValid() {
		return orb.Point{}, fmt.Errorf("%w: %q", ErrInvalidCell, string(c))
	}
	ll := hc.LatLng()
	return orb.Point{ll.Lng, ll.Lat}, nil
}

func validLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
