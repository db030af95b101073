package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/jonboulle/clockwork"
)

// Input is what the registry and the complaint window know about one cell.
type Input struct {
	CellID         string
	Population     int
	BusinessCount  int
	ComplaintCount int
}

type Store interface {
	// Inputs returns every registry cell with its complaint count since the given time.
	Inputs(ctx context.Context, since time.Time) ([]Input, error)
	// Upsert writes stats, replacing any existing row for the same cell and date.
	Upsert(ctx context.Context, stats []DailyStat) (int64, error)
}

type Result struct {
	Date    time.Time
	Since   time.Time
	Cells   int
	Written int64
}

type Engine struct {
	Store          Store
	Clock          clockwork.Clock
	DaysToInclude  int
	ActivityWeight float64
	Log            *slog.Logger
}

func NewEngine(store Store, clock clockwork.Clock, days int, weight float64, log *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Store:          store,
		Clock:          clock,
		DaysToInclude:  days,
		ActivityWeight: weight,
		Log:            log.With("component", "scoring"),
	}
}

// Window returns the run date (midnight UTC today) and the start of the trailing window.
func (e *Engine) Window() (date, since time.Time) {
	now := e.Clock.Now().UTC()
	date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return date, date.AddDate(0, 0, -e.DaysToInclude)
}

// Run scores every registry cell for today. Only today's rows are written; earlier dates
// are never touched.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	date, since := e.Window()
	res := Result{Date: date, Since: since}

	inputs, err := e.Store.Inputs(ctx, since)
	if err != nil {
		return res, errs.Storage("read scoring inputs", err)
	}
	res.Cells = len(inputs)
	if len(inputs) == 0 {
		e.Log.Info("no cells to score")
		return res, nil
	}

	stats := make([]DailyStat, 0, len(inputs))
	for _, in := range inputs {
		s := Score(in.ComplaintCount, in.Population, in.BusinessCount, e.ActivityWeight)
		stats = append(stats, DailyStat{
			CellID:           in.CellID,
			StatsDate:        date,
			ComplaintCount:   in.ComplaintCount,
			BaseImpactScore:  s.Base,
			ActivityScore:    s.Activity,
			FinalImpactScore: s.Final,
		})
	}

	if res.Written, err = e.Store.Upsert(ctx, stats); err != nil {
		return res, errs.Storage("write daily stats", err)
	}
	e.Log.Info("daily stats saved", "date", date.Format(time.DateOnly), "since", since.Format(time.DateOnly), "cells", res.Written)
	return res, nil
}
