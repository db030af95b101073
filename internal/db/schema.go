package db

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm"
)

func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// EnsurePostGIS enables the spatial extension the stores depend on.
func EnsurePostGIS(d *gorm.DB) error {
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS postgis`).Error
}

// Table qualifies name with Schema.
func Table(name string) string {
	return Schema + "." + name
}

// EWKT renders g as SRID-4326 extended WKT, the text form PostGIS accepts for geometry
// parameters.
func EWKT(g orb.Geometry) string {
	return "SRID=4326;" + wkt.MarshalString(g)
}

// PointEWKT is EWKT for a (lon, lat) point.
func PointEWKT(p orb.Point) string {
	return EWKT(p)
}

// IsTransient reports whether err is worth retrying: connection failures, serialization
// conflicts and deadlocks. Data, constraint and client-side encode errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// LockKey derives a stable advisory-lock key for a table group.
func LockKey(group string) int64 {
	var h int64 = 1469598103934665603 % (1 << 62)
	for _, c := range group {
		h = (h*1099511628211 + int64(c)) % (1 << 62)
	}
	return h
}
