// Package businesses maintains the business-license snapshot. Every refresh fetches the
// whole upstream set and swaps it in atomically; the table is never patched in place.
package businesses

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/source"
	"golang.org/x/crypto/blake2b"
)

// ErrEmptySnapshot stops a refresh that would wipe the live table.
var ErrEmptySnapshot = errors.New("upstream returned no usable businesses")

// Source returns one page of the active premises snapshot.
type Source interface {
	FetchPage(ctx context.Context, offset, limit int) ([]json.RawMessage, error)
}

// Store replaces the live snapshot. beforeSwap runs after staging is loaded and before the
// live table is touched; an error from it must leave the live table unchanged.
type Store interface {
	Replace(ctx context.Context, rows []Business, beforeSwap func(context.Context) error) error
}

type Result struct {
	Pages      int
	Fetched    int
	Loaded     int
	Rejected   int
	Duplicates int
	// Digest is a blake2b-256 of the cleaned snapshot, stable across runs when nothing
	// upstream changed.
	Digest string
}

type Engine struct {
	Source   Source
	Store    Store
	PageSize int
	Log      *slog.Logger

	// BeforeSwap, when set, runs between staging and swap.
	BeforeSwap func(context.Context) error
}

func NewEngine(src Source, store Store, pageSize int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Source:   src,
		Store:    store,
		PageSize: pageSize,
		Log:      log.With("component", "businesses"),
	}
}

// Run fetches the full snapshot and swaps it in. Fetch failures abort before storage is
// touched.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result
	seen := map[string]bool{}
	var rows []Business

	for offset := 0; ; offset += e.PageSize {
		start := time.Now()
		raws, err := e.Source.FetchPage(ctx, offset, e.PageSize)
		if err != nil {
			return res, errs.Source("fetch businesses", err)
		}
		if len(raws) == 0 {
			break
		}
		res.Pages++
		res.Fetched += len(raws)
		source.LogPage(e.Log, offset, len(raws), time.Since(start))

		for _, raw := range raws {
			b, err := Clean(raw)
			if err != nil {
				res.Rejected++
				e.Log.Debug("dropping business", "error", err)
				continue
			}
			if seen[b.LicenseNbr] {
				res.Duplicates++
				continue
			}
			seen[b.LicenseNbr] = true
			rows = append(rows, b)
		}

		if len(raws) < e.PageSize {
			break
		}
	}
	if res.Rejected > 0 {
		e.Log.Warn("dropped malformed businesses", "count", res.Rejected)
	}

	if len(rows) == 0 {
		return res, errs.Invariant("refresh businesses", ErrEmptySnapshot)
	}

	res.Digest = Digest(rows)
	if err := e.Store.Replace(ctx, rows, e.BeforeSwap); err != nil {
		return res, err
	}
	res.Loaded = len(rows)
	e.Log.Info("business snapshot replaced",
		"loaded", res.Loaded, "rejected", res.Rejected, "duplicates", res.Duplicates, "digest", res.Digest)
	return res, nil
}

// Digest hashes the snapshot independent of upstream order.
func Digest(rows []Business) string {
	sorted := make([]Business, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LicenseNbr < sorted[j].LicenseNbr })

	h, _ := blake2b.New256(nil)
	buf := make([]byte, 0, 96)
	for _, b := range sorted {
		buf = buf[:0]
		buf = append(buf, b.LicenseNbr...)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, b.Point.Lon(), 'f', -1, 64)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, b.Point.Lat(), 'f', -1, 64)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SoQL filter for physical, currently licensed premises.
const activePremises = "license_type = 'Premises' AND license_status = 'Active'"

// PageQuery builds the SoQL for one snapshot page.
func PageQuery(offset, limit int) string {
	return fmt.Sprintf("SELECT license_nbr, latitude, longitude WHERE %s ORDER BY license_nbr LIMIT %d OFFSET %d",
		activePremises, limit, offset)
}
