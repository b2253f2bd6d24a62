package dataset

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// Dataset describes the shape of one data source's observations.
// Definitions are loaded at startup from YAML files and fingerprinted
// for staleness detection.
type Dataset struct {
	Name         string             `yaml:"name"`
	GeoType      string             `yaml:"geo_type"`
	TimeType     timestep.TimeType  // validated from the raw string
	OtherKeys    []string           `yaml:"other_keys"`
	ValueColumns []string           `yaml:"value_columns"`
	Fingerprint  string             // SHA-256 of the raw YAML file; computed at load time
}

// rawDataset is the on-disk YAML shape.
type rawDataset struct {
	Name         string   `yaml:"name"`
	GeoType      string   `yaml:"geo_type"`
	TimeType     string   `yaml:"time_type"`
	OtherKeys    []string `yaml:"other_keys"`
	ValueColumns []string `yaml:"value_columns"`
}

// Repository defines the interface for loading dataset definitions.
type Repository interface {
	// Get returns the dataset with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Dataset, error)

	// List returns all loaded datasets.
	List(ctx context.Context) ([]Dataset, error)

	// GetDatasets returns all datasets as a slice (for batch processing).
	GetDatasets() []Dataset
}

// FileSystemRepository loads dataset definitions from *.yaml files in a
// directory. Each file contains exactly one definition at the top
// level. Definitions are loaded once at startup and cached in memory —
// no hot reload.
type FileSystemRepository struct {
	dir      string
	datasets map[string]Dataset // keyed by Name
}

// NewFileSystemRepository creates a new repository and eagerly loads
// all definitions from dir. Returns an error if any file is malformed
// or invalid.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:      dir,
		datasets: make(map[string]Dataset),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no dataset directory — valid (zero datasets configured)
	}
	if err != nil {
		return fmt.Errorf("dataset dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dataset path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading dataset dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading dataset file %s: %w", path, err)
		}

		var raw rawDataset
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing dataset file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if raw.GeoType == "" {
			return fmt.Errorf("dataset %q: geo_type must not be empty", raw.Name)
		}

		tt, err := timestep.Parse(raw.TimeType)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", raw.Name, err)
		}

		if len(raw.ValueColumns) == 0 {
			return fmt.Errorf("dataset %q: value_columns must not be empty", raw.Name)
		}
		seen := make(map[string]bool)
		for _, col := range append(append([]string{}, raw.OtherKeys...), raw.ValueColumns...) {
			if col == "" {
				return fmt.Errorf("dataset %q: empty column name", raw.Name)
			}
			if seen[col] {
				return fmt.Errorf("dataset %q: duplicate column %q", raw.Name, col)
			}
			seen[col] = true
		}

		fingerprint := fmt.Sprintf("%x", sha256.Sum256(data))

		if _, exists := r.datasets[raw.Name]; exists {
			return fmt.Errorf("dataset %q: duplicate dataset name (check multiple YAML files)", raw.Name)
		}

		r.datasets[raw.Name] = Dataset{
			Name:         raw.Name,
			GeoType:      raw.GeoType,
			TimeType:     tt,
			OtherKeys:    raw.OtherKeys,
			ValueColumns: raw.ValueColumns,
			Fingerprint:  fingerprint,
		}
	}
	return nil
}

// Get returns the dataset with the given name, or an error if not found.
func (r *FileSystemRepository) Get(_ context.Context, name string) (*Dataset, error) {
	ds, ok := r.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q not found", name)
	}
	return &ds, nil
}

// List returns all loaded datasets.
func (r *FileSystemRepository) List(_ context.Context) ([]Dataset, error) {
	return r.GetDatasets(), nil
}

// GetDatasets returns all datasets as a slice (for batch processing).
func (r *FileSystemRepository) GetDatasets() []Dataset {
	out := make([]Dataset, 0, len(r.datasets))
	for _, ds := range r.datasets {
		out = append(out, ds)
	}
	return out
}
