package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Validator collects every problem instead of stopping at the first one.
type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// Validate checks all sections and ensures the segments directory exists.
func (c *Config) Validate() error {
	v := &Validator{}

	validateWatcher(v, &c.Watcher)
	validateDetector(v, &c.Detector)
	validateStorage(v, &c.Storage)
	validateAPI(v, &c.API)
	validateLog(v, &c.Log)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}

	if err := os.MkdirAll(c.Watcher.SegmentsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create segments directory %s: %w", c.Watcher.SegmentsDir, err)
	}
	return nil
}

func validateWatcher(v *Validator, w *WatcherConfig) {
	if w.ReconnectInterval <= 0 {
		v.AddError("watcher.reconnect_interval must be positive")
	}
	if w.MinPollInterval <= 0 {
		v.AddError("watcher.min_poll_interval must be positive")
	}
	if w.MaxDownloadAttempts < 1 {
		v.AddError("watcher.max_download_attempts must be at least 1, got %d", w.MaxDownloadAttempts)
	}
	if w.DownloadRetryInterval < 0 {
		v.AddError("watcher.download_retry_interval cannot be negative")
	}
	if w.DownloadTimeout <= 0 {
		v.AddError("watcher.download_timeout must be positive")
	}
	if w.ManifestTimeout <= 0 {
		v.AddError("watcher.manifest_timeout must be positive")
	}
	if strings.TrimSpace(w.SegmentsDir) == "" {
		v.AddError("watcher.segments_dir is required")
	}
	switch w.ProcessorFailurePolicy {
	case PolicyIsolate, PolicyAbort:
	default:
		v.AddError("watcher.processor_failure_policy must be %q or %q, got %q",
			PolicyIsolate, PolicyAbort, w.ProcessorFailurePolicy)
	}
	if w.RescanInterval <= 0 {
		v.AddError("watcher.rescan_interval must be positive")
	}
}

func validateDetector(v *Validator, d *DetectorConfig) {
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.AddError("detector.url must be an absolute http(s) URL, got %q", d.URL)
	}
	if d.Timeout <= 0 {
		v.AddError("detector.timeout must be positive")
	}
}

func validateStorage(v *Validator, s *StorageConfig) {
	switch s.Driver {
	case "postgres":
		if s.Postgres.Host == "" {
			v.AddError("storage.postgres.host is required")
		}
		if s.Postgres.Database == "" {
			v.AddError("storage.postgres.database is required")
		}
		if s.Postgres.Port <= 0 || s.Postgres.Port > 65535 {
			v.AddError("storage.postgres.port out of range: %d", s.Postgres.Port)
		}
	case "sqlite3":
		if s.SQLite.Path == "" {
			v.AddError("storage.sqlite.path is required")
		}
	default:
		v.AddError("storage.driver must be postgres or sqlite3, got %q", s.Driver)
	}

	if s.MinIO.Enabled {
		if s.MinIO.Endpoint == "" {
			v.AddError("storage.minio.endpoint is required when MinIO is enabled")
		}
		if s.MinIO.Bucket == "" {
			v.AddError("storage.minio.bucket is required when MinIO is enabled")
		}
	}
}

func validateAPI(v *Validator, a *APIConfig) {
	if !a.Enabled {
		return
	}
	if a.ListenAddr == "" {
		v.AddError("api.listen_addr is required when the API is enabled")
	}
	if a.RateLimitRequests < 0 {
		v.AddError("api.rate_limit_requests cannot be negative")
	}
	if a.RateLimitRequests > 0 && a.RateLimitWindow <= 0 {
		v.AddError("api.rate_limit_window must be positive when rate limiting is on")
	}
}

func validateLog(v *Validator, l *LogConfig) {
	if _, err := watchlog.New(watchlog.Options{Level: l.Level, Format: l.Format, OutputPaths: []string{"stderr"}}); err != nil {
		v.AddError("log: %v", err)
	}
}

// LogOptions maps the log section onto the logger constructor.
func (l LogConfig) LogOptions() watchlog.Options {
	return watchlog.Options{
		Level:            l.Level,
		Format:           l.Format,
		OutputPaths:      l.OutputPaths,
		ErrorOutputPaths: l.ErrorOutputPaths,
	}
}
