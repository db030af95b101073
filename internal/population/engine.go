// Package population spreads neighbourhood-level population counts onto the hex grid by
// area-weighted overlap (areal interpolation). It runs once: a registry that already holds
// population is left alone unless the run is forced.
package population

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/arcgis"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
)

// Registry is the slice of the hex registry apportionment needs.
type Registry interface {
	TotalPopulation(ctx context.Context) (int64, error)
	Cells(ctx context.Context) ([]hexgrid.Cell, error)
	ReplacePopulations(ctx context.Context, pops map[hexgrid.Cell]int) (int64, error)
}

// Source returns every population feature. A failure on any page fails the whole fetch.
type Source interface {
	FetchAll(ctx context.Context) ([]arcgis.Feature, error)
}

type Result struct {
	Skipped     bool
	Features    int
	Areas       int
	Filtered    int // no or non-positive population
	Rejected    int // malformed geometry
	Cells       int
	Written     int64
	SourceSum   float64
	Apportioned int64
}

type Engine struct {
	Registry        Registry
	Source          Source
	PopulationField string
	NameField       string
	// Force recomputes even when the registry already holds population.
	Force bool
	Log   *slog.Logger
}

func NewEngine(reg Registry, src Source, populationField, nameField string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Registry:        reg,
		Source:          src,
		PopulationField: populationField,
		NameField:       nameField,
		Log:             log.With("component", "population"),
	}
}

// Run apportions population onto every registered cell. Nothing is written unless the fetch
// and every registry read succeed.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result

	total, err := e.Registry.TotalPopulation(ctx)
	if err != nil {
		return res, err
	}
	if total > 0 && !e.Force {
		e.Log.Info("population already apportioned, skipping", "total", total)
		res.Skipped = true
		return res, nil
	}

	features, err := e.Source.FetchAll(ctx)
	if err != nil {
		return res, errs.Source("fetch population", err)
	}
	res.Features = len(features)

	areas := make([]Area, 0, len(features))
	for i, f := range features {
		a, ok, err := e.toArea(f)
		if err != nil {
			res.Rejected++
			e.Log.Warn("dropping population feature", "index", i, "name", a.Name, "error", err)
			continue
		}
		if !ok {
			res.Filtered++
			continue
		}
		res.SourceSum += a.Population
		areas = append(areas, a)
	}
	res.Areas = len(areas)

	cells, err := e.Registry.Cells(ctx)
	if err != nil {
		return res, err
	}
	shapes := make([]CellShape, 0, len(cells))
	for _, c := range cells {
		ring, err := hexgrid.CellToBoundary(c)
		if err != nil {
			return res, errs.Invariant("apportion population", err)
		}
		shapes = append(shapes, CellShape{Cell: c, Boundary: ring})
	}
	res.Cells = len(shapes)

	pops := Apportion(shapes, areas)
	for _, p := range pops {
		res.Apportioned += int64(p)
	}

	if res.Written, err = e.Registry.ReplacePopulations(ctx, pops); err != nil {
		return res, err
	}
	e.Log.Info("population apportioned",
		"areas", res.Areas, "rejected", res.Rejected, "cells", res.Cells,
		"populated_cells", res.Written, "source_total", res.SourceSum, "apportioned_total", res.Apportioned)
	return res, nil
}

// toArea converts a feature. ok is false for features without positive population; a
// geometry problem is an errs.ErrMalformedGeometry.
func (e *Engine) toArea(f arcgis.Feature) (Area, bool, error) {
	a := Area{Name: attrString(f.Attributes[e.NameField])}
	pop, err := attrNumber(f.Attributes[e.PopulationField])
	if err != nil || pop <= 0 {
		return a, false, nil
	}
	a.Population = pop

	mp, err := arcgis.ParsePolygon(f.Geometry)
	if err != nil {
		return a, false, errs.Geometry("parse population geometry", err)
	}
	a.Geometry = mp
	return a, true, nil
}

func attrString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// attrNumber reads a numeric attribute sent either as a JSON number or a string.
func attrNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
