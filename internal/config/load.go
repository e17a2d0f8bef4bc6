package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional), then variables from envFiles (missing files are ignored),
// then HYPERSIGHT_* environment overrides. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DataSourceName returns the driver name and DSN for the configured SQL store
func (c *Config) DataSourceName() (driver, dsn string) {
	switch c.Storage.Driver {
	case "sqlite3":
		return "sqlite3", c.Storage.SQLite.Path
	default:
		pg := c.Storage.Postgres
		u := url.URL{
			Scheme:   "postgres",
			Host:     pg.Host + ":" + strconv.Itoa(pg.Port),
			Path:     "/" + pg.Database,
			RawQuery: "sslmode=" + url.QueryEscape(pg.SSLMode),
		}
		if pg.Username != "" {
			u.User = url.UserPassword(pg.Username, pg.Password)
		}
		return "postgres", u.String()
	}
}

// CameraSegmentsDir is the temp directory owned by one camera's watcher
func (c *Config) CameraSegmentsDir(cameraID int64) string {
	return filepath.Join(c.Watcher.SegmentsDir, strconv.FormatInt(cameraID, 10))
}
