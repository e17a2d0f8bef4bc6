package config

import (
	"time"
)

// EnvPrefix namespaces every environment override, e.g.
// HYPERSIGHT_WATCHER_RECONNECT_INTERVAL or HYPERSIGHT_STORAGE_POSTGRES_HOST.
const EnvPrefix = "HYPERSIGHT"

// Config represents the complete configuration for the watcher service
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Watcher  WatcherConfig  `yaml:"watcher" json:"watcher"`
	Detector DetectorConfig `yaml:"detector" json:"detector"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Relay    RelayConfig    `yaml:"relay" json:"relay"`
	API      APIConfig      `yaml:"api" json:"api"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Environment string `yaml:"environment" json:"environment"`

	// Graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" split_words:"true"`
}

// Failure policies applied when a processor returns an error.
const (
	PolicyIsolate = "isolate"
	PolicyAbort   = "abort"
)

// WatcherConfig controls the per-camera polling loop
type WatcherConfig struct {
	// Idle and offline sleeps
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval" split_words:"true"`
	MinPollInterval   time.Duration `yaml:"min_poll_interval" json:"min_poll_interval" split_words:"true"`

	// Manifest and segment fetching
	ManifestTimeout       time.Duration `yaml:"manifest_timeout" json:"manifest_timeout" split_words:"true"`
	MaxDownloadAttempts   int           `yaml:"max_download_attempts" json:"max_download_attempts" split_words:"true"`
	DownloadRetryInterval time.Duration `yaml:"download_retry_interval" json:"download_retry_interval" split_words:"true"`
	DownloadTimeout       time.Duration `yaml:"download_timeout" json:"download_timeout" split_words:"true"`

	// Per-camera temp files live under SegmentsDir/<camera_id>
	SegmentsDir string `yaml:"segments_dir" json:"segments_dir" split_words:"true"`

	// isolate or abort
	ProcessorFailurePolicy string `yaml:"processor_failure_policy" json:"processor_failure_policy" split_words:"true"`

	// Supervisor
	RescanInterval    time.Duration `yaml:"rescan_interval" json:"rescan_interval" split_words:"true"`
	RestartBackoffMax time.Duration `yaml:"restart_backoff_max" json:"restart_backoff_max" split_words:"true"`
}

// DetectorConfig points at the external object detection endpoint
type DetectorConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Driver   string         `yaml:"driver" json:"driver"` // postgres, sqlite3
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite" envconfig:"SQLITE"`
	MinIO    MinIOConfig    `yaml:"minio" json:"minio" envconfig:"MINIO"`
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode" split_words:"true"`

	// Connection pool
	MaxConnections  int           `yaml:"max_connections" json:"max_connections" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" split_words:"true"`
}

// SQLiteConfig is used for single-host deployments and local development
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MinIOConfig contains MinIO configuration for annotated previews
type MinIOConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id" json:"access_key_id" split_words:"true"`
	SecretAccessKey string        `yaml:"secret_access_key" json:"secret_access_key" split_words:"true"`
	UseSSL          bool          `yaml:"use_ssl" json:"use_ssl" split_words:"true"`
	Bucket          string        `yaml:"bucket" json:"bucket"`
	Region          string        `yaml:"region" json:"region"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries" split_words:"true"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout" split_words:"true"`
}

// RelayConfig configures the websocket presence relay
type RelayConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" split_words:"true"`
	// URL the face processors publish to; empty disables publishing.
	PublishURL string `yaml:"publish_url" json:"publish_url" split_words:"true"`
}

// APIConfig contains API server configuration
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" split_words:"true"`

	// CORS
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins" split_words:"true"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests" json:"rate_limit_requests" split_words:"true"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" json:"rate_limit_window" split_words:"true"`

	// Timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" split_words:"true"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level            string   `yaml:"level" json:"level"`
	Format           string   `yaml:"format" json:"format"` // json, console
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" split_words:"true"`
	ErrorOutputPaths []string `yaml:"error_output_paths" json:"error_output_paths" split_words:"true"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "hypersight",
			Environment:     "development",
			ShutdownTimeout: 30 * time.Second,
		},
		Watcher: WatcherConfig{
			ReconnectInterval:      5 * time.Second,
			MinPollInterval:        time.Second,
			ManifestTimeout:        10 * time.Second,
			MaxDownloadAttempts:    10,
			DownloadRetryInterval:  time.Second,
			DownloadTimeout:        5 * time.Second,
			SegmentsDir:            "/tmp/hypersight/segments",
			ProcessorFailurePolicy: PolicyIsolate,
			RescanInterval:         30 * time.Second,
			RestartBackoffMax:      time.Minute,
		},
		Detector: DetectorConfig{
			URL:     "http://127.0.0.1:5007/detectObjects",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "hypersight",
				SSLMode:         "disable",
				MaxConnections:  10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			SQLite: SQLiteConfig{
				Path: "hypersight.db",
			},
			MinIO: MinIOConfig{
				Endpoint:       "localhost:9000",
				Bucket:         "hypersight",
				Region:         "us-east-1",
				MaxRetries:     3,
				ConnectTimeout: 30 * time.Second,
			},
		},
		Relay: RelayConfig{
			ListenAddr: ":6789",
		},
		API: APIConfig{
			Enabled:           true,
			ListenAddr:        ":8080",
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
