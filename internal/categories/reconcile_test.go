package categories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/EmpoweredVote/hexpulse/internal/complaints"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTypes struct{}

func (failingTypes) DistinctTypes(context.Context) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestReconcile_ListFailure(t *testing.T) {
	r := NewReconciler(failingTypes{}, nil, Config{}, testutil.Logger())
	_, err := r.Reconcile(context.Background())
	assert.ErrorIs(t, err, errs.ErrStorageFailure)
}

func TestReconcile_UpsertsAndUpdates(t *testing.T) {
	d := testutil.PostGIS(t)
	require.NoError(t, complaints.AutoMigrate(d.Gorm))
	require.NoError(t, AutoMigrate(d.Gorm))
	ctx := context.Background()

	store := complaints.NewStore(d.Gorm)
	var batch []complaints.Complaint
	for _, raw := range []string{
		`{"unique_key":"1","created_date":"2025-03-01T10:00:00","complaint_type":"Rodent"}`,
		`{"unique_key":"2","created_date":"2025-03-01T11:00:00","complaint_type":"Noise - Residential"}`,
		`{"unique_key":"3","created_date":"2025-03-01T12:00:00","complaint_type":"Mystery"}`,
	} {
		c, err := complaints.Clean(json.RawMessage(raw))
		require.NoError(t, err)
		batch = append(batch, c)
	}
	_, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)

	cfg, err := ParseConfig([]byte("category_mapping:\n  Rodent: sanitation\n  Noise - Residential: noise\npriority_order:\n  Noise: 1\n"))
	require.NoError(t, err)
	n, err := NewReconciler(store, d.Gorm, cfg, testutil.Logger()).Reconcile(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	load := func() map[string]ComplaintCategory {
		var rows []ComplaintCategory
		require.NoError(t, d.Gorm.Find(&rows).Error)
		out := map[string]ComplaintCategory{}
		for _, r := range rows {
			out[r.ComplaintType] = r
		}
		return out
	}
	rows := load()
	require.Len(t, rows, 3)
	assert.Equal(t, ComplaintCategory{"Noise - Residential", "Noise", 1}, rows["Noise - Residential"])
	assert.Equal(t, ComplaintCategory{"Rodent", "Sanitation", UnrankedSortOrder}, rows["Rodent"])
	assert.Equal(t, ComplaintCategory{"Mystery", DefaultCategory, DefaultSortOrder}, rows["Mystery"])

	// Edited mapping takes effect on rerun.
	cfg.CategoryMapping["Mystery"] = "Noise"
	_, err = NewReconciler(store, d.Gorm, cfg, testutil.Logger()).Reconcile(ctx)
	require.NoError(t, err)
	rows = load()
	require.Len(t, rows, 3)
	assert.Equal(t, ComplaintCategory{"Mystery", "Noise", 1}, rows["Mystery"])
}
