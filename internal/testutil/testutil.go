// Package testutil provides shared test infrastructure: a quiet logger and a PostGIS
// container for integration tests.
//
// Usage:
//
//	func TestStore(t *testing.T) {
//	    d := testutil.PostGIS(t)
//	    require.NoError(t, complaints.AutoMigrate(d.Gorm))
//	    ...
//	}
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgisImage = "postgis/postgis:16-3.4-alpine"

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// Logger returns a logger that only shows warnings, or nothing under -short.
func Logger() *slog.Logger {
	if testing.Short() {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// PostGIS returns a connection to a shared PostGIS container with an empty hexpulse schema.
// The test is skipped under -short or when no container runtime is available.
func PostGIS(t *testing.T) *db.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostGIS integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		containerDSN, containerErr = startContainer()
	})
	if containerErr != nil {
		t.Skipf("postgis container unavailable: %v", containerErr)
	}

	ctx := context.Background()
	d, err := db.Connect(ctx, containerDSN, false)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(d.Close)

	if err := db.EnsurePostGIS(d.Gorm); err != nil {
		t.Fatalf("enable postgis: %v", err)
	}
	if err := d.Gorm.Exec(`DROP SCHEMA IF EXISTS "` + db.Schema + `" CASCADE`).Error; err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := db.EnsureSchema(d.Gorm, db.Schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return d
}

func startContainer() (string, error) {
	ctx := context.Background()
	c, err := postgres.Run(ctx, postgisImage,
		postgres.WithDatabase("hexpulse"),
		postgres.WithUsername("hexpulse"),
		postgres.WithPassword("hexpulse"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start %s: %w", postgisImage, err)
	}
	return c.ConnectionString(ctx, "sslmode=disable")
}
