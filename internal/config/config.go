package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common errors
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is required")
	ErrInvalidPageSize    = errors.New("PAGE_SIZE must be positive")
	ErrInvalidWindow      = errors.New("DAYS_TO_INCLUDE must be positive")
	ErrInvalidWeight      = errors.New("ACTIVITY_WEIGHT must be a non-negative number")
)

// Defaults for the NYC open-data sources.
const (
	DefaultSocrataBaseURL    = "https://data.cityofnewyork.us"
	DefaultComplaintsDataset = "erm2-nwe9"
	DefaultBusinessesDataset = "w7w3-xahh"
	DefaultPopulationURL     = "https://services5.arcgis.com/GfwWNkhOj9bNBqoJ/arcgis/rest/services/NTAData01/FeatureServer/0/query"
	DefaultPopulationField   = "Pop_20"
	DefaultPopulationName    = "NTAName"
	DefaultHistoricalStart   = "2025-01-01T00:00:00"
	DefaultPageSize          = 50000
	DefaultDaysToInclude     = 30
	DefaultActivityWeight    = 0.1
	DefaultCategoryConfig    = "category_config.yaml"
	DefaultBatchRetries      = 3
	DefaultRequestTimeout    = 60 * time.Second
	DefaultRequestsPerSecond = 2.0
	DefaultBusinessRefresh   = 7 * 24 * time.Hour
)

// Config holds configuration for every pipeline stage.
type Config struct {
	DatabaseURL string

	// Socrata (complaints + business licenses)
	SocrataBaseURL    string
	AppToken          string
	ComplaintsDataset string
	BusinessesDataset string

	// ArcGIS population polygons
	PopulationURL   string
	PopulationField string
	PopulationName  string

	HistoricalStart time.Time
	PageSize        int
	BatchRetries    int

	RequestTimeout    time.Duration
	RequestsPerSecond float64

	DaysToInclude  int
	ActivityWeight float64

	// BusinessRefresh is how old the last license snapshot may get before a full pipeline
	// run refreshes it.
	BusinessRefresh time.Duration

	CategoryConfig string
	PushgatewayURL string
}

// LoadFromEnv loads pipeline configuration from environment variables.
//
// Environment variables:
//   - DATABASE_URL: Postgres/PostGIS DSN (required)
//   - NYC_OPEN_DATA_APP_TOKEN: Socrata app token sent as X-App-Token (optional)
//   - SOCRATA_BASE_URL, COMPLAINTS_DATASET, BUSINESSES_DATASET
//   - POPULATION_URL, POPULATION_FIELD, POPULATION_NAME_FIELD
//   - HISTORICAL_START: watermark used when no complaints are stored (default 2025-01-01T00:00:00)
//   - PAGE_SIZE (default 50000), BATCH_RETRIES (default 3)
//   - REQUEST_TIMEOUT (default 60s), REQUESTS_PER_SECOND (default 2)
//   - DAYS_TO_INCLUDE (default 30), ACTIVITY_WEIGHT (default 0.1)
//   - BUSINESS_REFRESH_INTERVAL: max snapshot age before a run refreshes licenses (default 168h)
//   - CATEGORY_CONFIG: path to the category mapping artifact (default category_config.yaml)
//   - PUSHGATEWAY_URL: push run metrics here when set
func LoadFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SocrataBaseURL:    envOr("SOCRATA_BASE_URL", DefaultSocrataBaseURL),
		AppToken:          strings.TrimSpace(os.Getenv("NYC_OPEN_DATA_APP_TOKEN")),
		ComplaintsDataset: envOr("COMPLAINTS_DATASET", DefaultComplaintsDataset),
		BusinessesDataset: envOr("BUSINESSES_DATASET", DefaultBusinessesDataset),
		PopulationURL:     envOr("POPULATION_URL", DefaultPopulationURL),
		PopulationField:   envOr("POPULATION_FIELD", DefaultPopulationField),
		PopulationName:    envOr("POPULATION_NAME_FIELD", DefaultPopulationName),
		CategoryConfig:    envOr("CATEGORY_CONFIG", DefaultCategoryConfig),
		PushgatewayURL:    strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL")),
	}

	var err error
	if cfg.HistoricalStart, err = ParseTimestamp(envOr("HISTORICAL_START", DefaultHistoricalStart)); err != nil {
		return Config{}, fmt.Errorf("HISTORICAL_START: %w", err)
	}
	if cfg.PageSize, err = envInt("PAGE_SIZE", DefaultPageSize); err != nil {
		return Config{}, err
	}
	if cfg.BatchRetries, err = envInt("BATCH_RETRIES", DefaultBatchRetries); err != nil {
		return Config{}, err
	}
	if cfg.DaysToInclude, err = envInt("DAYS_TO_INCLUDE", DefaultDaysToInclude); err != nil {
		return Config{}, err
	}
	if cfg.ActivityWeight, err = envFloat("ACTIVITY_WEIGHT", DefaultActivityWeight); err != nil {
		return Config{}, err
	}
	if cfg.RequestsPerSecond, err = envFloat("REQUESTS_PER_SECOND", DefaultRequestsPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BusinessRefresh, err = envDuration("BUSINESS_REFRESH_INTERVAL", DefaultBusinessRefresh); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.DaysToInclude <= 0 {
		return ErrInvalidWindow
	}
	if c.ActivityWeight < 0 {
		return ErrInvalidWeight
	}
	return nil
}

// timestampLayouts are the forms accepted for HISTORICAL_START and upstream timestamps.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the floating (zone-less) timestamps used by Socrata, plus RFC3339
// and date-only forms. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
