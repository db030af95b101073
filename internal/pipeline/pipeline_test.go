package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/config"
	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/grid"
	"github.com/EmpoweredVote/hexpulse/internal/scoring"
	"github.com/EmpoweredVote/hexpulse/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		SocrataBaseURL:    "http://127.0.0.1:1",
		ComplaintsDataset: config.DefaultComplaintsDataset,
		BusinessesDataset: config.DefaultBusinessesDataset,
		PopulationURL:     "http://127.0.0.1:1/query",
		PopulationField:   config.DefaultPopulationField,
		PopulationName:    config.DefaultPopulationName,
		HistoricalStart:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PageSize:          100,
		RequestTimeout:    5 * time.Second,
		DaysToInclude:     30,
		ActivityWeight:    0.1,
		BusinessRefresh:   24 * time.Hour,
		CategoryConfig:    config.DefaultCategoryConfig,
	}
}

const complaintRows = `[
  {"unique_key":"1","created_date":"2025-03-10T09:00:00.000","complaint_type":"Noise - Residential","agency":"NYPD","latitude":"40.7128","longitude":"-74.0060"},
  {"unique_key":"2","created_date":"2025-03-11T09:00:00.000","complaint_type":"Rodent","agency":"DOHMH","latitude":"40.7580","longitude":"-73.9855"},
  {"unique_key":"3","created_date":"2025-03-12T09:00:00.000","complaint_type":"Rodent","agency":"DOHMH"},
  {"created_date":"2025-03-12T10:00:00.000","complaint_type":"Rodent"}
]`

const businessRows = `[
  {"license_nbr":"L-1","latitude":"40.7128","longitude":"-74.0060"},
  {"license_nbr":"L-2","latitude":"40.7128","longitude":"-74.0060"}
]`

// One neighbourhood square covering both complaint locations.
const populationPage = `{"features":[{"attributes":{"NTAName":"Lower Manhattan","Pop_20":50000},
  "geometry":{"rings":[[[-74.05,40.70],[-74.05,40.78],[-73.95,40.78],[-73.95,40.70],[-74.05,40.70]]]}}]}`

func fakeUpstreams(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/resource/{file}", func(w http.ResponseWriter, req *http.Request) {
		if !strings.Contains(req.URL.Query().Get("$query"), "OFFSET 0") {
			fmt.Fprint(w, `[]`)
			return
		}
		switch chi.URLParam(req, "file") {
		case config.DefaultComplaintsDataset + ".json":
			fmt.Fprint(w, complaintRows)
		case config.DefaultBusinessesDataset + ".json":
			fmt.Fprint(w, businessRows)
		default:
			http.NotFound(w, req)
		}
	})
	r.Post("/arcgis/query", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, populationPage)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_CoversFullRun(t *testing.T) {
	stages := Build(testConfig(), &db.DB{}, nil, nil, Options{}, testutil.Logger())
	got, err := Select(stages, FullRun...)
	require.NoError(t, err)
	assert.Len(t, got, len(stages))
	assert.Equal(t, StageScore, got[len(got)-1].Name)
	assert.Equal(t, GateAlways, got[len(got)-1].Gate)
}

func TestPipeline_FullRunThenQuietRun(t *testing.T) {
	d := testutil.PostGIS(t)
	require.NoError(t, Migrate(d.Gorm))
	ctx := context.Background()

	srv := fakeUpstreams(t)
	catPath := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte("category_mapping:\n  Rodent: sanitation\npriority_order:\n  Sanitation: 1\n"), 0o600))

	cfg := testConfig()
	cfg.SocrataBaseURL = srv.URL
	cfg.PopulationURL = srv.URL + "/arcgis/query"
	cfg.CategoryConfig = catPath

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	runs := NewStore(d.Gorm)
	stages, err := Select(Build(cfg, d, runs, clock, Options{}, testutil.Logger()), FullRun...)
	require.NoError(t, err)
	runner := NewRunner(runs, clock, testutil.Logger())

	sum, err := runner.Run(ctx, stages)
	require.NoError(t, err)
	assert.EqualValues(t, 5, sum.Ingested, "three complaints and two licenses")
	for _, s := range sum.Stages {
		assert.Equal(t, StatusSucceeded, s.Status, s.Stage)
	}

	var cells []grid.HexCell
	require.NoError(t, d.Gorm.Order("cell_id").Find(&cells).Error)
	require.Len(t, cells, 2)
	businesses := 0
	for _, c := range cells {
		businesses += c.BusinessCount
		assert.Positive(t, c.Population)
	}
	assert.Equal(t, 2, businesses)

	var stats []scoring.DailyStat
	require.NoError(t, d.Gorm.Find(&stats).Error)
	assert.Len(t, stats, 2)
	for _, s := range stats {
		assert.Equal(t, 1, s.ComplaintCount)
		assert.Positive(t, s.FinalImpactScore)
	}

	var categories int64
	require.NoError(t, d.Gorm.Table(db.Table("complaint_categories")).Count(&categories).Error)
	assert.EqualValues(t, 2, categories)

	// Same upstream data an hour later: nothing new, licenses not due.
	clock.Advance(time.Hour)
	sum, err = runner.Run(ctx, stages)
	require.NoError(t, err)
	assert.Zero(t, sum.Ingested)
	status := map[string]string{}
	for _, s := range sum.Stages {
		status[s.Stage] = s.Status
	}
	assert.Equal(t, StatusSucceeded, status[StageComplaints])
	assert.Equal(t, StatusSkipped, status[StageBusinesses])
	assert.Equal(t, StatusSkipped, status[StageGrid])
	assert.Equal(t, StatusSkipped, status[StagePopulation])
	assert.Equal(t, StatusSucceeded, status[StageScore])

	recent, err := runs.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 2*len(FullRun))

	last, ok, err := runs.LastSuccess(ctx, StageBusinesses)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)), last)
}
