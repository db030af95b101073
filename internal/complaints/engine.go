// Package complaints incrementally ingests 311 service requests. Each run resumes from the
// newest stored creation timestamp, cleans every page and inserts it idempotently.
package complaints

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/source"
	"github.com/cenkalti/backoff/v5"
)

// Source returns one page of raw upstream records created strictly after since, in
// ascending creation order.
type Source interface {
	FetchPage(ctx context.Context, since time.Time, offset, limit int) ([]json.RawMessage, error)
}

// Store persists complaints. InsertBatch must be all-or-nothing and must ignore records
// whose key is already stored, returning the number actually inserted.
type Store interface {
	LatestCreated(ctx context.Context) (time.Time, bool, error)
	InsertBatch(ctx context.Context, batch []Complaint) (int64, error)
}

// Result summarises one run.
type Result struct {
	Watermark time.Time
	Pages     int
	Fetched   int
	Inserted  int64
	Rejected  int
}

// Engine runs DETERMINE_WATERMARK → FETCH_PAGE → CLEAN_VALIDATE → UPSERT until the source
// returns a short or empty page.
type Engine struct {
	Source          Source
	Store           Store
	HistoricalStart time.Time
	PageSize        int
	// BatchRetries is how many times a failed batch insert is retried before the run aborts.
	BatchRetries uint
	Log          *slog.Logger

	retryInterval time.Duration
}

func NewEngine(src Source, store Store, historicalStart time.Time, pageSize int, batchRetries uint, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Source:          src,
		Store:           store,
		HistoricalStart: historicalStart,
		PageSize:        pageSize,
		BatchRetries:    batchRetries,
		Log:             log.With("component", "complaints"),
	}
}

// Run ingests every record newer than the watermark. A page fetch failure aborts with
// errs.ErrSourceUnavailable; pages already inserted stay committed.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	wm, err := e.watermark(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Watermark: wm}
	e.Log.Info("starting complaint ingestion", "watermark", wm.Format(time.RFC3339), "page_size", e.PageSize)

	for offset := 0; ; offset += e.PageSize {
		start := time.Now()
		raws, err := e.Source.FetchPage(ctx, wm, offset, e.PageSize)
		if err != nil {
			return res, errs.Source("fetch complaints", err)
		}
		if len(raws) == 0 {
			break
		}
		res.Pages++
		res.Fetched += len(raws)
		source.LogPage(e.Log, offset, len(raws), time.Since(start))

		batch := make([]Complaint, 0, len(raws))
		for i, raw := range raws {
			c, err := Clean(raw)
			if err != nil {
				res.Rejected++
				e.Log.Warn("dropping complaint", "offset", offset+i, "error", err)
				continue
			}
			batch = append(batch, c)
		}

		n, err := e.insert(ctx, batch)
		if err != nil {
			return res, err
		}
		res.Inserted += n

		if len(raws) < e.PageSize {
			break
		}
	}

	e.Log.Info("complaint ingestion finished",
		"pages", res.Pages, "fetched", res.Fetched, "inserted", res.Inserted, "rejected", res.Rejected)
	return res, nil
}

func (e *Engine) watermark(ctx context.Context) (time.Time, error) {
	latest, ok, err := e.Store.LatestCreated(ctx)
	if err != nil {
		return time.Time{}, errs.Storage("read watermark", err)
	}
	if !ok {
		return e.HistoricalStart, nil
	}
	return latest, nil
}

func (e *Engine) insert(ctx context.Context, batch []Complaint) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	b := backoff.NewExponentialBackOff()
	if e.retryInterval > 0 {
		b.InitialInterval = e.retryInterval
	}
	attempt := 0
	n, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		n, err := e.Store.InsertBatch(ctx, batch)
		if err == nil {
			return n, nil
		}
		if !db.IsTransient(err) {
			return 0, backoff.Permanent(err)
		}
		e.Log.Warn("complaint batch insert failed", "attempt", attempt, "size", len(batch), "error", err)
		return 0, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.BatchRetries+1))
	if err != nil {
		return 0, errs.Storage("insert complaints", err)
	}
	return n, nil
}
