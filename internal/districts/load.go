package districts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
)

var (
	ErrNoFeatures  = errors.New("no district features")
	ErrMissingCode = errors.New("boro_cd is missing")
)

const codeProperty = "boro_cd"

type Service struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewService(d *gorm.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: d, log: log.With("component", "districts")}
}

type LoadResult struct {
	Features int
	Inserted int64
	Skipped  int
}

// LoadGeoJSON loads district polygons from a GeoJSON FeatureCollection file. Districts that
// are already stored are left untouched, so reloading the same file is a no-op.
func (s *Service) LoadGeoJSON(ctx context.Context, path string) (LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("open districts file: %w", err)
	}
	defer f.Close()
	return s.Load(ctx, f)
}

func (s *Service) Load(ctx context.Context, r io.Reader) (LoadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read districts: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return LoadResult{}, errs.Record("decode districts", err)
	}

	res := LoadResult{Features: len(fc.Features)}
	type row struct{ code, geom string }
	var rows []row
	for i, feat := range fc.Features {
		code, geom, err := featureRow(feat)
		if err != nil {
			res.Skipped++
			s.log.Warn("skipping district feature", "index", i, "error", err)
			continue
		}
		rows = append(rows, row{code, geom})
	}
	if len(rows) == 0 {
		return res, errs.Invariant("load districts", ErrNoFeatures)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			q := tx.Exec(`
				INSERT INTO hexpulse.community_districts (boro_cd, geometry)
				VALUES (?, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON(?), 4326)))
				ON CONFLICT (boro_cd) DO NOTHING
			`, r.code, r.geom)
			if q.Error != nil {
				return fmt.Errorf("district %s: %w", r.code, q.Error)
			}
			res.Inserted += q.RowsAffected
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, errs.Storage("insert districts", err)
	}
	s.log.Info("districts loaded", "features", res.Features, "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

func featureRow(feat *geojson.Feature) (string, string, error) {
	code, err := districtCode(feat.Properties[codeProperty])
	if err != nil {
		return "", "", errs.Record("district feature", err)
	}
	switch feat.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return "", "", errs.Geometry("district "+code, fmt.Errorf("unsupported geometry %T", feat.Geometry))
	}
	b, err := geojson.NewGeometry(feat.Geometry).MarshalJSON()
	if err != nil {
		return "", "", errs.Geometry("district "+code, err)
	}
	return code, string(b), nil
}

// districtCode accepts the code as a string or a JSON number.
func districtCode(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s, nil
		}
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return "", ErrMissingCode
}
