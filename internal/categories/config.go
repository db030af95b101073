// Package categories maps raw complaint types onto display categories with a sort order,
// driven by a static mapping file and reconciled against the types actually stored.
package categories

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultCategory receives every complaint type the mapping does not name.
	DefaultCategory = "Other"
	// DefaultSortOrder places DefaultCategory last.
	DefaultSortOrder = 100
	// UnrankedSortOrder is used for mapped categories missing from priority_order.
	UnrankedSortOrder = 99
)

var ErrNoMapping = errors.New("category config has no category_mapping")

// Config is the mapping artifact. JSON files parse too.
type Config struct {
	CategoryMapping map[string]string `yaml:"category_mapping"`
	PriorityOrder   map[string]int    `yaml:"priority_order"`
}

// LoadConfig reads and normalises the mapping file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read category config: %w", err)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse category config: %w", err)
	}
	if len(cfg.CategoryMapping) == 0 {
		return Config{}, ErrNoMapping
	}

	mapping := make(map[string]string, len(cfg.CategoryMapping))
	for typ, cat := range cfg.CategoryMapping {
		mapping[strings.TrimSpace(typ)] = Normalize(cat)
	}
	priority := make(map[string]int, len(cfg.PriorityOrder))
	for cat, order := range cfg.PriorityOrder {
		priority[Normalize(cat)] = order
	}
	return Config{CategoryMapping: mapping, PriorityOrder: priority}, nil
}

var titler = cases.Title(language.English, cases.NoLower)

// Normalize folds runs of whitespace and title-cases a category label. Existing capitals
// are kept so acronyms survive.
func Normalize(label string) string {
	return titler.String(strings.Join(strings.Fields(label), " "))
}

// Mapping is one complaint_categories row.
type Mapping struct {
	ComplaintType string
	Category      string
	SortOrder     int
}

// Resolve maps each complaint type through cfg. Blank types are skipped.
func (cfg Config) Resolve(types []string) []Mapping {
	out := make([]Mapping, 0, len(types))
	for _, typ := range types {
		if strings.TrimSpace(typ) == "" {
			continue
		}
		cat, ok := cfg.CategoryMapping[strings.TrimSpace(typ)]
		if !ok || cat == "" {
			cat = DefaultCategory
		}
		order, ok := cfg.PriorityOrder[cat]
		if !ok {
			order = UnrankedSortOrder
		}
		if cat == DefaultCategory {
			order = DefaultSortOrder
		}
		out = append(out, Mapping{ComplaintType: typ, Category: cat, SortOrder: order})
	}
	return out
}
