package grid

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/EmpoweredVote/hexpulse/internal/businesses"
	"github.com/EmpoweredVote/hexpulse/internal/complaints"
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/EmpoweredVote/hexpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*db.DB, *Registry) {
	t.Helper()
	d := testutil.PostGIS(t)
	require.NoError(t, complaints.AutoMigrate(d.Gorm))
	require.NoError(t, businesses.AutoMigrate(d.Gorm))
	require.NoError(t, AutoMigrate(d.Gorm))
	return d, NewRegistry(d.Gorm, testutil.Logger())
}

func seedComplaints(t *testing.T, d *db.DB, raws ...string) {
	t.Helper()
	batch := make([]complaints.Complaint, 0, len(raws))
	for _, raw := range raws {
		c, err := complaints.Clean(json.RawMessage(raw))
		require.NoError(t, err)
		batch = append(batch, c)
	}
	_, err := complaints.NewStore(d.Gorm).InsertBatch(context.Background(), batch)
	require.NoError(t, err)
}

func seedBusinesses(t *testing.T, d *db.DB, raws ...string) {
	t.Helper()
	rows := make([]businesses.Business, 0, len(raws))
	for _, raw := range raws {
		b, err := businesses.Clean(json.RawMessage(raw))
		require.NoError(t, err)
		rows = append(rows, b)
	}
	require.NoError(t, businesses.NewStore(d.Pool).Replace(context.Background(), rows, nil))
}

func cellAt(t *testing.T, lat, lon float64) hexgrid.Cell {
	t.Helper()
	c, err := hexgrid.PointToCell(lat, lon, hexgrid.Resolution)
	require.NoError(t, err)
	return c
}

func TestRegistry_SyncCoversBothSources(t *testing.T) {
	d, reg := setup(t)
	ctx := context.Background()

	seedComplaints(t, d,
		`{"unique_key":"1","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"unique_key":"2","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"unique_key":"3"}`,
	)
	seedBusinesses(t, d,
		`{"license_nbr":"a","latitude":"40.7580","longitude":"-73.9855"}`,
		`{"license_nbr":"b","latitude":"40.7128","longitude":"-74.0060"}`,
	)

	added, err := reg.Sync(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, added)

	cells, err := reg.Cells(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []hexgrid.Cell{cellAt(t, 40.7128, -74.0060), cellAt(t, 40.7580, -73.9855)}, cells)

	// The stored boundary contains the point that produced the cell.
	var contains bool
	require.NoError(t, d.Gorm.Raw(`
		SELECT ST_Contains(geometry, ST_SetSRID(ST_MakePoint(-74.0060, 40.7128), 4326))
		FROM hexpulse.hex_cells WHERE cell_id = ?`, cellAt(t, 40.7128, -74.0060).String()).Scan(&contains).Error)
	assert.True(t, contains)

	added, err = reg.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestRegistry_SyncKeepsExistingCounts(t *testing.T) {
	d, reg := setup(t)
	ctx := context.Background()

	seedComplaints(t, d, `{"unique_key":"1","latitude":"40.7128","longitude":"-74.0060"}`)
	_, err := reg.Sync(ctx)
	require.NoError(t, err)

	cell := cellAt(t, 40.7128, -74.0060)
	_, err = reg.ReplacePopulations(ctx, map[hexgrid.Cell]int{cell: 321})
	require.NoError(t, err)

	seedComplaints(t, d, `{"unique_key":"2","latitude":"40.7580","longitude":"-73.9855"}`)
	added, err := reg.Sync(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, added)

	total, err := reg.TotalPopulation(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 321, total)
}

func TestRegistry_ReplacePopulationsWithNothingClearsStaleValues(t *testing.T) {
	d, reg := setup(t)
	ctx := context.Background()

	seedComplaints(t, d,
		`{"unique_key":"1","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"unique_key":"2","latitude":"40.7580","longitude":"-73.9855"}`,
	)
	_, err := reg.Sync(ctx)
	require.NoError(t, err)
	_, err = reg.ReplacePopulations(ctx, map[hexgrid.Cell]int{
		cellAt(t, 40.7128, -74.0060): 321,
		cellAt(t, 40.7580, -73.9855): 45,
	})
	require.NoError(t, err)

	n, err := reg.ReplacePopulations(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := reg.TotalPopulation(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRegistry_AggregateBusinesses(t *testing.T) {
	d, reg := setup(t)
	ctx := context.Background()

	seedComplaints(t, d, `{"unique_key":"1","latitude":"40.6892","longitude":"-74.0445"}`)
	seedBusinesses(t, d,
		`{"license_nbr":"a","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"license_nbr":"b","latitude":"40.7128","longitude":"-74.0060"}`,
		`{"license_nbr":"c","latitude":"40.7580","longitude":"-73.9855"}`,
	)
	_, err := reg.Sync(ctx)
	require.NoError(t, err)

	_, err = reg.AggregateBusinesses(ctx)
	require.NoError(t, err)

	counts := func() map[string]int {
		var rows []HexCell
		require.NoError(t, d.Gorm.Find(&rows).Error)
		out := map[string]int{}
		for _, r := range rows {
			out[r.CellID] = r.BusinessCount
		}
		return out
	}
	got := counts()
	assert.Equal(t, 2, got[cellAt(t, 40.7128, -74.0060).String()])
	assert.Equal(t, 1, got[cellAt(t, 40.7580, -73.9855).String()])
	assert.Equal(t, 0, got[cellAt(t, 40.6892, -74.0445).String()])

	// After a refresh that removes every business in a cell, its count returns to zero.
	seedBusinesses(t, d, `{"license_nbr":"c","latitude":"40.7580","longitude":"-73.9855"}`)
	_, err = reg.AggregateBusinesses(ctx)
	require.NoError(t, err)
	got = counts()
	assert.Equal(t, 0, got[cellAt(t, 40.7128, -74.0060).String()])
	assert.Equal(t, 1, got[cellAt(t, 40.7580, -73.9855).String()])
}

func TestRegistry_ReplacePopulationsRejectsUnknownCell(t *testing.T) {
	_, reg := setup(t)
	_, err := reg.ReplacePopulations(context.Background(), map[hexgrid.Cell]int{cellAt(t, 40.7, -73.9): 5})
	require.Error(t, err)

	total, err := reg.TotalPopulation(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCellPolygon(t *testing.T) {
	poly, err := CellPolygon(cellAt(t, 40.7128, -74.0060))
	require.NoError(t, err)
	require.Len(t, poly, 1)
	assert.True(t, poly[0].Closed())

	_, err = CellPolygon(hexgrid.Cell("not-a-cell"))
	assert.ErrorIs(t, err, hexgrid.ErrInvalidCell)
}
