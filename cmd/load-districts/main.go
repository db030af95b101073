package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/EmpoweredVote/hexpulse/internal/districts"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		path  = flag.String("geojson", "community_districts.geojson", "path to the community districts GeoJSON")
		dbURL = flag.String("db", "", "DATABASE_URL (defaults to the environment)")
		stats = flag.Bool("stats", false, "recompute district stats after loading")
	)
	flag.Parse()

	dsn := *dbURL
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if *path == "" || dsn == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	d, err := db.Connect(ctx, dsn, false)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if err := db.EnsurePostGIS(d.Gorm); err != nil {
		log.Fatal(err)
	}
	if err := districts.AutoMigrate(d.Gorm); err != nil {
		log.Fatal(err)
	}

	svc := districts.NewService(d.Gorm, nil)
	res, err := svc.LoadGeoJSON(ctx, *path)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("loaded %d of %d districts (%d skipped)", res.Inserted, res.Features, res.Skipped)

	if *stats {
		n, err := svc.ComputeStats(ctx)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %d district stats", n)
	}
}
