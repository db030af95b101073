package districts

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/EmpoweredVote/hexpulse/internal/complaints"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const districtsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"boro_cd": "101"},
     "geometry": {"type": "Polygon", "coordinates": [[[-74.02,40.70],[-74.00,40.70],[-74.00,40.72],[-74.02,40.72],[-74.02,40.70]]]}},
    {"type": "Feature", "properties": {"boro_cd": 105},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-73.99,40.75],[-73.98,40.75],[-73.98,40.77],[-73.99,40.77],[-73.99,40.75]]]]}},
    {"type": "Feature", "properties": {"name": "no code"},
     "geometry": {"type": "Polygon", "coordinates": [[[-73.9,40.6],[-73.8,40.6],[-73.8,40.7],[-73.9,40.6]]]}},
    {"type": "Feature", "properties": {"boro_cd": "999"},
     "geometry": {"type": "Point", "coordinates": [-73.9,40.6]}}
  ]
}`

func TestDistrictCode(t *testing.T) {
	for in, want := range map[any]string{"101": "101", " 205 ": "205", 312.0: "312"} {
		got, err := districtCode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, in := range []any{nil, "", "  ", true} {
		_, err := districtCode(in)
		assert.ErrorIs(t, err, ErrMissingCode)
	}
}

func TestLoad_NothingUsable(t *testing.T) {
	s := NewService(nil, testutil.Logger())
	res, err := s.Load(context.Background(), strings.NewReader(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`))
	assert.ErrorIs(t, err, errs.ErrInvariantViolation)
	assert.Equal(t, 1, res.Skipped)

	_, err = s.Load(context.Background(), strings.NewReader(`not json`))
	assert.ErrorIs(t, err, errs.ErrMalformedRecord)
}

func TestService_LoadAndComputeStats(t *testing.T) {
	d := testutil.PostGIS(t)
	require.NoError(t, complaints.AutoMigrate(d.Gorm))
	require.NoError(t, AutoMigrate(d.Gorm))
	ctx := context.Background()
	s := NewService(d.Gorm, testutil.Logger())

	res, err := s.Load(ctx, strings.NewReader(districtsJSON))
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Features: 4, Inserted: 2, Skipped: 2}, res)

	// Reloading keeps existing rows.
	res, err = s.Load(ctx, strings.NewReader(districtsJSON))
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	var batch []complaints.Complaint
	for _, raw := range []string{
		`{"unique_key":"1","created_date":"2025-03-01T10:00:00","complaint_type":"Noise","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"unique_key":"2","created_date":"2025-03-01T11:00:00","complaint_type":"Noise","latitude":"40.7100","longitude":"-74.0100"}`,
		`{"unique_key":"3","created_date":"2025-03-01T12:00:00","complaint_type":"Rodent","latitude":"40.7050","longitude":"-74.0150"}`,
		`{"unique_key":"4","created_date":"2025-03-01T13:00:00","complaint_type":"Noise","latitude":"40.7580","longitude":"-73.9855"}`,
		`{"unique_key":"5","created_date":"2025-03-01T14:00:00","complaint_type":"Noise"}`,
		`{"unique_key":"6","created_date":"2025-03-01T15:00:00","complaint_type":"Noise","latitude":"40.6000","longitude":"-73.7000"}`,
	} {
		c, err := complaints.Clean(json.RawMessage(raw))
		require.NoError(t, err)
		batch = append(batch, c)
	}
	_, err = complaints.NewStore(d.Gorm).InsertBatch(ctx, batch)
	require.NoError(t, err)

	n, err := s.ComputeStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	var area float64
	require.NoError(t, d.Gorm.Raw(`SELECT ST_Area(geometry::geography) / 1000000.0 FROM hexpulse.community_districts WHERE boro_cd = '101'`).Scan(&area).Error)
	require.Greater(t, area, 0.0)

	var stats []Stat
	require.NoError(t, d.Gorm.Order("boro_cd, complaint_type").Find(&stats).Error)
	require.Len(t, stats, 3)
	assert.Equal(t, "101", stats[0].BoroCD)
	assert.Equal(t, "Noise", stats[0].ComplaintType)
	assert.EqualValues(t, 2, stats[0].ComplaintCount)
	assert.InDelta(t, 2/area, stats[0].DensityPerSqKm, 1e-9)
	assert.Equal(t, "Rodent", stats[1].ComplaintType)
	assert.EqualValues(t, 1, stats[1].ComplaintCount)
	assert.Equal(t, "105", stats[2].BoroCD)

	// Rebuilding replaces rather than accumulates.
	n, err = s.ComputeStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	var count int64
	require.NoError(t, d.Gorm.Model(&Stat{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}
