package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// RetryConfig holds configuration for the retry executor.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts is the maximum number of attempts per operation, including the first.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval is the maximum backoff interval in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor is the multiplier applied to the interval after each failed attempt.
	UnavailableWait int     `yaml:"unavailable_wait"` // UnavailableWait is the fixed wait in milliseconds applied when the source is completely unreachable.
}

// SyncConfig holds configuration for the synchronization pipeline itself.
type SyncConfig struct {
	BatchSize       int    `yaml:"batch_size"`        // BatchSize is the number of records committed per batch.
	Mode            string `yaml:"mode"`              // Mode is the default run mode, "FULL" or "INCREMENTAL".
	StaleAfterHours int    `yaml:"stale_after_hours"` // StaleAfterHours marks records older than this as stale for incremental runs.
}

// SourceConfig holds configuration for the external chess data source.
type SourceConfig struct {
	BaseURL        string `yaml:"base_url"`        // BaseURL is the root endpoint of the external data API.
	APIKey         string `yaml:"api_key"`         // APIKey authenticates requests against the external data API.
	TimeoutSeconds int    `yaml:"timeout_seconds"` // TimeoutSeconds bounds a single HTTP request.
	PageSize       int    `yaml:"page_size"`       // PageSize is the number of records requested per page.
}

// DatabaseConfig holds connection settings for a single named database.
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // Type selects the driver: "sqlite", "postgres" or "mysql".
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // Database is the database name, or the file path for sqlite.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sslmode  string `yaml:"sslmode"`
}

// StorageConfig holds configuration for snapshot storage.
type StorageConfig struct {
	Provider  string `yaml:"provider"`   // Provider selects the backend: "local" or "gcs".
	Directory string `yaml:"directory"`  // Directory is the base path for the local provider.
	Bucket    string `yaml:"bucket"`     // Bucket is the GCS bucket for the gcs provider.
	Prefix    string `yaml:"prefix"`     // Prefix is prepended to every object key.
}

// ExportConfig holds configuration for parquet snapshot export.
type ExportConfig struct {
	Enabled bool `yaml:"enabled"` // Enabled turns on snapshot export after successful full runs.
}

// TracingConfig holds configuration for OpenTelemetry trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`      // Enabled turns on OTLP trace export.
	Endpoint    string  `yaml:"endpoint"`     // Endpoint is the OTLP/HTTP collector endpoint (host:port).
	ServiceName string  `yaml:"service_name"` // ServiceName identifies this process in traces.
	SampleRatio float64 `yaml:"sample_ratio"` // SampleRatio is the trace sampling ratio in [0, 1].
}

// ServerConfig holds configuration for the admin HTTP listener.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"` // Enabled turns on the admin HTTP listener.
	Addr    string `yaml:"addr"`    // Addr is the listen address (e.g., ":8080").
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// SyncDBRef is the name of the database connection used for sync metadata and entities.
	SyncDBRef string `yaml:"sync_db_ref"`
}

// ChessyncConfig holds all configuration under the "chessync" top-level key.
type ChessyncConfig struct {
	// Sync contains pipeline specific configuration.
	Sync SyncConfig `yaml:"sync"`
	// Retry contains retry executor configuration.
	Retry RetryConfig `yaml:"retry"`
	// Source contains external data source configuration.
	Source SourceConfig `yaml:"source"`
	// System contains system-wide configuration.
	System SystemConfig `yaml:"system"`
	// Infrastructure contains infrastructure-related configuration.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// Storage contains snapshot storage configuration.
	Storage StorageConfig `yaml:"storage"`
	// Export contains parquet export configuration.
	Export ExportConfig `yaml:"export"`
	// Tracing contains OpenTelemetry configuration.
	Tracing TracingConfig `yaml:"tracing"`
	// Server contains admin HTTP listener configuration.
	Server ServerConfig `yaml:"server"`
	// Databases holds named database connection settings.
	Databases map[string]DatabaseConfig `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Chessync contains the top-level configuration for the synchronizer.
	Chessync ChessyncConfig `yaml:"chessync"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
//
// Returns:
//
//	A pointer to a new Config instance initialized with default settings.
func NewConfig() *Config {
	cfg := &Config{
		Chessync: ChessyncConfig{
			Sync: SyncConfig{
				BatchSize:       50,
				Mode:            "FULL",
				StaleAfterHours: 24,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500,
				MaxInterval:     30000,
				Factor:          2.0,
				UnavailableWait: 300000, // 5 minutes.
			},
			Source: SourceConfig{
				TimeoutSeconds: 30,
				PageSize:       100,
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Infrastructure: InfrastructureConfig{
				SyncDBRef: "metadata",
			},
			Storage: StorageConfig{
				Provider:  "local",
				Directory: "./snapshots",
			},
			Tracing: TracingConfig{
				ServiceName: "chessync",
				SampleRatio: 1.0,
			},
			Server: ServerConfig{
				Addr: ":8080",
			},
		},
	}

	// Initialize Databases as an empty map, to be populated by YAML or environment variables.
	cfg.Chessync.Databases = map[string]DatabaseConfig{}
	return cfg
}

// SyncDatabase returns connection settings for the database referenced by
// Infrastructure.SyncDBRef, and whether such a connection is configured.
func (c *Config) SyncDatabase() (DatabaseConfig, bool) {
	db, ok := c.Chessync.Databases[c.Chessync.Infrastructure.SyncDBRef]
	return db, ok
}
