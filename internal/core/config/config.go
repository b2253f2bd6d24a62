package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coredataset "github.com/cmu-delphi/epitools/internal/core/dataset"
)

// Config represents the top-level application config plus the resolved
// dataset definitions.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Datasets   DatasetsConfig   `koanf:"datasets"`
	Compaction CompactionConfig `koanf:"compaction"`
	Slide      SlideConfig      `koanf:"slide"`

	// Loaded is populated by Load after parsing dataset files.
	Loaded LoadedDatasets `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type DatasetsConfig struct {
	ConfigDir       string `koanf:"config_dir"`
	RequireDatasets bool   `koanf:"require_datasets"`
}

type CompactionConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Interval    string `koanf:"interval"` // parsed and validated on startup
	WorkerCount int    `koanf:"worker_count"`
}

type SlideConfig struct {
	Workers int `koanf:"workers"`
}

type LoadedDatasets struct {
	ConfigDir string
	Datasets  []coredataset.Dataset
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Datasets.ConfigDir) == "" {
		return fmt.Errorf("datasets.config_dir is required")
	}

	if c.Compaction.Enabled {
		interval, err := time.ParseDuration(c.Compaction.Interval)
		if err != nil {
			return fmt.Errorf("invalid compaction.interval %q: %w", c.Compaction.Interval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("compaction.interval must be > 0")
		}
		if c.Compaction.WorkerCount <= 0 {
			return fmt.Errorf("compaction.worker_count must be > 0")
		}
	}

	if c.Slide.Workers <= 0 {
		return fmt.Errorf("slide.workers must be > 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and
// validates dataset definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_mb":   4,
		"server.mode":               "release",
		"database.type":             "postgres",
		"database.dsn":              "",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"datasets.config_dir":       "./config/datasets",
		"datasets.require_datasets": true,
		"compaction.enabled":        true,
		"compaction.interval":       "1h",
		"compaction.worker_count":   4,
		"slide.workers":             8,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("EPITOOLS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EPITOOLS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coredataset.NewFileSystemRepository(cfg.Datasets.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset definitions: %w", err)
	}
	datasets := repo.GetDatasets()
	if cfg.Datasets.RequireDatasets && len(datasets) == 0 {
		return nil, fmt.Errorf("no dataset definitions found in %q", cfg.Datasets.ConfigDir)
	}

	cfg.Loaded = LoadedDatasets{
		ConfigDir: cfg.Datasets.ConfigDir,
		Datasets:  datasets,
	}

	return &cfg, nil
}
