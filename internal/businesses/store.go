package businesses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/socrata"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/encoding/ewkb"
)

var ErrRefreshInProgress = errors.New("business refresh already in progress")

const lockGroup = "hexpulse.businesses"

// PgStore stages rows with COPY and swaps tables by rename, all in one transaction, so a
// failure anywhere leaves the live table as it was.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Replace(ctx context.Context, rows []Business, beforeSwap func(context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Storage("begin business refresh", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, db.LockKey(lockGroup)).Scan(&locked); err != nil {
		return errs.Storage("lock business refresh", err)
	}
	if !locked {
		return errs.Invariant("lock business refresh", ErrRefreshInProgress)
	}

	if err := s.stage(ctx, tx, rows); err != nil {
		return errs.Storage("stage businesses", err)
	}

	if beforeSwap != nil {
		if err := beforeSwap(ctx); err != nil {
			return errs.Invariant("swap businesses", fmt.Errorf("before swap: %w", err))
		}
	}

	if err := swap(ctx, tx); err != nil {
		return errs.Invariant("swap businesses", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Invariant("commit business swap", err)
	}
	return nil
}

func (s *PgStore) stage(ctx context.Context, tx pgx.Tx, rows []Business) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, db.Table(stagingTable))); err != nil {
		return err
	}
	for _, stmt := range tableDDL(stagingTable) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if err := registerGeometry(ctx, tx.Conn()); err != nil {
		return err
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{db.Schema, stagingTable},
		[]string{"license_nbr", "location", "cell_id"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			loc, err := ewkb.Marshal(rows[i].Point, 4326)
			if err != nil {
				return nil, err
			}
			return []any{rows[i].LicenseNbr, loc, rows[i].Cell.String()}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy loaded %d of %d rows", n, len(rows))
	}
	return nil
}

// registerGeometry lets COPY send EWKB bytes for the geometry column in binary format.
func registerGeometry(ctx context.Context, conn *pgx.Conn) error {
	if _, ok := conn.TypeMap().TypeForName("geometry"); ok {
		return nil
	}
	var oid uint32
	if err := conn.QueryRow(ctx, `SELECT 'geometry'::regtype::oid`).Scan(&oid); err != nil {
		return fmt.Errorf("lookup geometry type: %w", err)
	}
	conn.TypeMap().RegisterType(&pgtype.Type{Name: "geometry", OID: oid, Codec: pgtype.ByteaCodec{}})
	return nil
}

func swap(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, db.Table(liveTable), oldTable),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, db.Table(stagingTable), liveTable),
		fmt.Sprintf(`DROP TABLE %s`, db.Table(oldTable)),
		fmt.Sprintf(`ALTER INDEX %s.%s_pkey RENAME TO %s_pkey`, db.Schema, stagingTable, liveTable),
		fmt.Sprintf(`ALTER INDEX %s.%s_cell_id_idx RENAME TO %s_cell_id_idx`, db.Schema, stagingTable, liveTable),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SocrataSource reads the license dataset.
type SocrataSource struct {
	Client  *socrata.Client
	Dataset string
}

func (s SocrataSource) FetchPage(ctx context.Context, offset, limit int) ([]json.RawMessage, error) {
	return s.Client.Query(ctx, s.Dataset, PageQuery(offset, limit))
}
