package complaints

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/socrata"
	"github.com/EmpoweredVote/hexpulse/internal/source"
	"github.com/EmpoweredVote/hexpulse/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := PageQuery(since, 100000, 50000)
	assert.Equal(t,
		"SELECT unique_key, created_date, closed_date, agency, complaint_type, descriptor, latitude, longitude "+
			"WHERE created_date >= '2025-01-01T00:00:00.000' ORDER BY created_date, unique_key LIMIT 50000 OFFSET 100000",
		q)
}

func TestPageQuery_KeepsMilliseconds(t *testing.T) {
	since := time.Date(2025, 6, 30, 23, 59, 59, 123_000_000, time.UTC)
	assert.Contains(t, PageQuery(since, 0, 10), "'2025-06-30T23:59:59.123'")
}

func TestSocrataSource_FetchPage(t *testing.T) {
	var gotQuery, gotToken string
	r := chi.NewRouter()
	r.Get("/resource/{dataset}.json", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "erm2-nwe9", chi.URLParam(req, "dataset"))
		gotQuery = req.URL.Query().Get("$query")
		gotToken = req.Header.Get("X-App-Token")
		w.Write([]byte(`[{"unique_key":"1"},{"unique_key":"2"}]`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	fetcher := source.NewFetcher("socrata", time.Second, 0, 1, testutil.Logger())
	src := SocrataSource{Client: socrata.NewClient(srv.URL, "tok", fetcher), Dataset: "erm2-nwe9"}

	rows, err := src.FetchPage(context.Background(), historicalStart, 0, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "tok", gotToken)
	assert.Contains(t, gotQuery, "LIMIT 2 OFFSET 0")
}
