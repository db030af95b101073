// Package grid owns the hex registry: one row per observed cell, carrying the apportioned
// population and the aggregated business count.
package grid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertChunk = 500

type Registry struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewRegistry(d *gorm.DB, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{db: d, log: log.With("component", "grid")}
}

// Sync inserts a registry row for every cell seen in complaints or businesses that does not
// have one yet. Existing rows are left alone. Returns the number of rows added.
func (r *Registry) Sync(ctx context.Context) (int64, error) {
	var missing []string
	err := r.db.WithContext(ctx).Raw(`
		SELECT cell_id FROM hexpulse.complaints WHERE cell_id IS NOT NULL
		UNION
		SELECT cell_id FROM hexpulse.businesses WHERE cell_id IS NOT NULL
		EXCEPT
		SELECT cell_id FROM hexpulse.hex_cells
	`).Scan(&missing).Error
	if err != nil {
		return 0, errs.Storage("list unregistered cells", err)
	}
	if len(missing) == 0 {
		r.log.Info("hex registry already complete")
		return 0, nil
	}

	rows := make([]HexCell, 0, len(missing))
	for _, id := range missing {
		cell, err := hexgrid.ParseCell(id)
		if err != nil {
			return 0, errs.Invariant("sync grid", fmt.Errorf("stored cell %q: %w", id, err))
		}
		ring, err := hexgrid.CellToBoundary(cell)
		if err != nil {
			return 0, errs.Invariant("sync grid", err)
		}
		rows = append(rows, HexCell{CellID: cell.String(), Geometry: db.EWKT(ringPolygon(ring))})
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cell_id"}},
		DoNothing: true,
	}).CreateInBatches(&rows, insertChunk)
	if res.Error != nil {
		return 0, errs.Storage("insert hex cells", res.Error)
	}
	r.log.Info("synced hex registry", "added", res.RowsAffected)
	return res.RowsAffected, nil
}

// AggregateBusinesses recomputes every business_count from the current snapshot. Cells with
// no businesses end at zero.
func (r *Registry) AggregateBusinesses(ctx context.Context) (int64, error) {
	var updated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`UPDATE hexpulse.hex_cells SET business_count = 0 WHERE business_count <> 0`).Error; err != nil {
			return err
		}
		res := tx.Exec(`
			UPDATE hexpulse.hex_cells h
			SET business_count = c.n
			FROM (SELECT cell_id, COUNT(*) AS n FROM hexpulse.businesses GROUP BY cell_id) c
			WHERE h.cell_id = c.cell_id
		`)
		updated = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errs.Storage("aggregate businesses", err)
	}
	r.log.Info("updated business counts", "cells", updated)
	return updated, nil
}

// TotalPopulation is the registry-wide population sum.
func (r *Registry) TotalPopulation(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Raw(`SELECT COALESCE(SUM(population), 0) FROM hexpulse.hex_cells`).Scan(&total).Error; err != nil {
		return 0, errs.Storage("sum population", err)
	}
	return total, nil
}

// Cells lists every registered cell.
func (r *Registry) Cells(ctx context.Context) ([]hexgrid.Cell, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&HexCell{}).Order("cell_id").Pluck("cell_id", &ids).Error; err != nil {
		return nil, errs.Storage("list hex cells", err)
	}
	cells := make([]hexgrid.Cell, 0, len(ids))
	for _, id := range ids {
		c, err := hexgrid.ParseCell(id)
		if err != nil {
			return nil, errs.Invariant("list hex cells", fmt.Errorf("stored cell %q: %w", id, err))
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// ReplacePopulations sets the given cells' populations and zeroes every other cell, in one
// transaction. An empty pops zeroes the whole registry.
func (r *Registry) ReplacePopulations(ctx context.Context, pops map[hexgrid.Cell]int) (int64, error) {
	ids := make([]string, 0, len(pops))
	vals := make([]int64, 0, len(pops))
	for c, p := range pops {
		ids = append(ids, c.String())
		vals = append(vals, int64(p))
	}

	var updated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`UPDATE hexpulse.hex_cells SET population = 0 WHERE population <> 0`).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Exec(`
			UPDATE hexpulse.hex_cells h
			SET population = v.population
			FROM unnest(?::text[], ?::bigint[]) AS v(cell_id, population)
			WHERE h.cell_id = v.cell_id
		`, pq.Array(ids), pq.Array(vals))
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected
		if updated != int64(len(ids)) {
			return fmt.Errorf("updated %d of %d cells", updated, len(ids))
		}
		return nil
	})
	if err != nil {
		return 0, errs.Storage("write populations", err)
	}
	return updated, nil
}
