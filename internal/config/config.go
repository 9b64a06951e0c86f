// Package config loads the optional cnmfsns.yaml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cnmfsns/internal/blob"
	"github.com/sawpanic/cnmfsns/internal/persistence/sqlstore"
)

// DefaultPath is the file looked up in the integration directory
const DefaultPath = "cnmfsns.yaml"

// Config is the complete runtime configuration
type Config struct {
	Workers        int            `yaml:"workers"`          // 0 means GOMAXPROCS
	BlockRows      int            `yaml:"block_rows"`       // similarity rows per work item
	LowOverlapWarn int            `yaml:"low_overlap_warn"` // warn below this many shared genes
	LogLevel       string         `yaml:"log_level"`        // zerolog level name
	Store          StoreConfig    `yaml:"store"`
	Database       DatabaseConfig `yaml:"database"`
	Metrics        MetricsConfig  `yaml:"metrics"`
}

// StoreConfig selects the blob store used by create-container
type StoreConfig struct {
	Driver string   `yaml:"driver"` // fs | s3 | memory
	Root   string   `yaml:"root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds the S3 driver settings. Credentials come from the default AWS chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// DatabaseConfig enables persisting network runs. Empty DSN disables it.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // sqlite | postgres
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// MetricsConfig controls the Prometheus textfile written after each command
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		Workers:        0,
		BlockRows:      16,
		LowOverlapWarn: 50,
		LogLevel:       "info",
		Store:          StoreConfig{Driver: string(blob.DriverFilesystem)},
		Database:       DatabaseConfig{Driver: "sqlite", QueryTimeout: 30 * time.Second},
	}
}

// Load reads path on top of Default. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.BlockRows < 1 {
		return fmt.Errorf("block_rows must be positive, got %d", c.BlockRows)
	}
	if c.LowOverlapWarn < 0 {
		return fmt.Errorf("low_overlap_warn cannot be negative, got %d", c.LowOverlapWarn)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch blob.Driver(c.Store.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket cannot be empty")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of fs, s3, memory", c.Store.Driver)
	}

	if c.Database.DSN != "" {
		switch c.Database.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("database.driver %q is not one of sqlite, postgres", c.Database.Driver)
		}
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("database.query_timeout cannot be negative")
	}
	return nil
}

// Level returns the parsed log level
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// BlobConfig maps the store section to blob.Config. A relative fs root
// is resolved against base.
func (c *Config) BlobConfig(base string) blob.Config {
	root := c.Store.Root
	if root == "" {
		root = "blobdata"
	}
	if base != "" && !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}
	return blob.Config{
		Driver: blob.Driver(c.Store.Driver),
		Root:   root,
		S3: blob.S3Config{
			Bucket:    c.Store.S3.Bucket,
			Region:    c.Store.S3.Region,
			Endpoint:  c.Store.S3.Endpoint,
			PathStyle: c.Store.S3.PathStyle,
		},
	}
}

// DatabaseEnabled reports whether network runs are persisted
func (c *Config) DatabaseEnabled() bool { return c.Database.DSN != "" }

// SQLConfig maps the database section to sqlstore.Config
func (c *Config) SQLConfig() sqlstore.Config {
	out := sqlstore.DefaultConfig()
	out.Driver = c.Database.Driver
	out.DSN = c.Database.DSN
	if c.Database.QueryTimeout > 0 {
		out.QueryTimeout = c.Database.QueryTimeout
	}
	return out
}
