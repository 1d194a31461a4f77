package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/orchestrator"
)

type specFile struct {
	Runs []specEntry `yaml:"runs"`
}

type specEntry struct {
	Name       string         `yaml:"name"`
	TTLSeconds int64          `yaml:"ttl_seconds"`
	Migrations []specUnit     `yaml:"migrations"`
	TestQuery  string         `yaml:"test_query"`
	Vars       map[string]any `yaml:"vars,omitempty"`
}

type specUnit struct {
	Sequence int    `yaml:"sequence"`
	Name     string `yaml:"name"`
	SQL      string `yaml:"sql"`
}

// LoadSpecs reads run specs from a YAML file. A spec's test_query becomes a
// count predicate: the run passes when the query's first column scans to a
// value greater than zero.
func LoadSpecs(path string) ([]Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read specs: %w", err)
	}
	return ParseSpecs(raw)
}

func ParseSpecs(raw []byte) ([]Spec, error) {
	var file specFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse specs: %w", err)
	}
	if len(file.Runs) == 0 {
		return nil, fmt.Errorf("spec file holds no runs")
	}

	specs := make([]Spec, 0, len(file.Runs))
	for _, entry := range file.Runs {
		spec := Spec{
			Name: entry.Name,
			TTL:  time.Duration(entry.TTLSeconds) * time.Second,
		}
		for _, unit := range entry.Migrations {
			spec.Units = append(spec.Units, domain.NewMigrationUnit(unit.Sequence, unit.Name, unit.SQL))
		}
		if entry.TestQuery != "" {
			spec.Check = CountPredicate(entry.TestQuery)
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// CountPredicate passes when the query's first result column is > 0.
func CountPredicate(query string) Predicate {
	return func(ctx context.Context, db orchestrator.DB) (bool, error) {
		var count int64
		if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return false, fmt.Errorf("test query: %w", err)
		}
		return count > 0, nil
	}
}
