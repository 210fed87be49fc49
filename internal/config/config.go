// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"time"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/database"
	"github.com/JonMunkholm/pricesync/internal/filestore"
	"github.com/JonMunkholm/pricesync/internal/metrics"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Catalog  CatalogConfig
	Storage  StorageConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig

	// offline skips database requirements (CLI dry runs).
	offline bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, bounded by RequestTimeout)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// SyncTimeout bounds synchronous ingestion requests (default: 10m)
	SyncTimeout time.Duration `env:"SERVER_SYNC_TIMEOUT" default:"10m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending schema migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// IngestConfig holds pricelist pipeline settings.
type IngestConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the number of jobs that run at once (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a synchronous ingest waits for a worker (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// JobTimeout is the wall-clock budget of one job (default: 30m)
	JobTimeout time.Duration `env:"INGEST_JOB_TIMEOUT" default:"30m"`

	// JobRetention is how long finished jobs stay queryable (default: 1h)
	JobRetention time.Duration `env:"INGEST_JOB_RETENTION" default:"1h"`

	// SweepInterval is how often expired jobs are removed (default: 1m)
	SweepInterval time.Duration `env:"INGEST_SWEEP_INTERVAL" default:"1m"`

	// ChunkSize is the number of rows per transaction (default: 500)
	ChunkSize int `env:"INGEST_CHUNK_SIZE" default:"500"`

	// ChunkRetries bounds retries of a chunk after a serialization failure or
	// deadlock; negative disables retries (default: 3)
	ChunkRetries int `env:"INGEST_CHUNK_RETRIES" default:"3"`

	// RetryBackoff is the first retry delay, doubled per attempt (default: 100ms)
	RetryBackoff time.Duration `env:"INGEST_RETRY_BACKOFF" default:"100ms"`

	// SampleRows is the number of data rows used to infer columns (default: 50)
	SampleRows int `env:"INGEST_SAMPLE_ROWS" default:"50"`

	// NormalizeWorkers bounds parallel row normalization (default: 0 = GOMAXPROCS)
	NormalizeWorkers int `env:"INGEST_NORMALIZE_WORKERS" default:"0"`

	// MaxDiagnostics caps the diagnostics kept per job (default: 200)
	MaxDiagnostics int `env:"INGEST_MAX_DIAGNOSTICS" default:"200"`

	// StrictSuppliers lists suppliers whose unparseable numbers reject the row
	StrictSuppliers []string `env:"INGEST_STRICT_SUPPLIERS"`
}

// CatalogConfig holds catalog defaults.
type CatalogConfig struct {
	// DefaultCurrency is used when a cost cell names no currency (default: USD)
	DefaultCurrency string `env:"CATALOG_DEFAULT_CURRENCY" default:"USD"`
}

// StorageConfig selects where uploaded files are staged.
type StorageConfig struct {
	// Backend receives new uploads: local or s3 (default: local)
	Backend string `env:"STORAGE_BACKEND" default:"local"`

	// LocalRoot is the directory for the local backend (default: ./data/uploads)
	LocalRoot string `env:"STORAGE_LOCAL_ROOT" default:"./data/uploads"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Region    string `env:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `env:"S3_USE_SSL" default:"false"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" default:"pricelists"`
}

// S3Enabled reports whether enough is configured to reach object storage.
func (c *StorageConfig) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Path is where metrics are served (default: /metrics)
	Path string `env:"METRICS_PATH" default:"/metrics"`

	// Environment labels every series (default: development)
	Environment string `env:"METRICS_ENV" default:"development"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// CoreOptions maps ingestion and catalog settings onto the pipeline options.
func (c *Config) CoreOptions() core.Options {
	return core.Options{
		MaxFileSize:      c.Ingest.MaxFileSize,
		MaxConcurrent:    c.Ingest.MaxConcurrent,
		MaxWaitTime:      c.Ingest.MaxWaitTime,
		JobTimeout:       c.Ingest.JobTimeout,
		JobRetention:     c.Ingest.JobRetention,
		SweepInterval:    c.Ingest.SweepInterval,
		ChunkSize:        c.Ingest.ChunkSize,
		ChunkRetries:     c.Ingest.ChunkRetries,
		RetryBackoff:     c.Ingest.RetryBackoff,
		SampleRows:       c.Ingest.SampleRows,
		NormalizeWorkers: c.Ingest.NormalizeWorkers,
		MaxDiagnostics:   c.Ingest.MaxDiagnostics,
		DefaultCurrency:  c.Catalog.DefaultCurrency,
		StrictSuppliers:  c.Ingest.StrictSuppliers,
	}
}

// PoolOptions maps the database section onto the pool settings.
func (c *Config) PoolOptions() database.PoolOptions {
	return database.PoolOptions{
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
		MaxConnIdleTime: c.Database.MaxConnIdleTime,
	}
}

// FileStore maps the storage section onto the file store settings.
func (c *Config) FileStore() filestore.Config {
	fc := filestore.Config{
		Backend:   c.Storage.Backend,
		LocalRoot: c.Storage.LocalRoot,
	}
	if c.Storage.S3Enabled() {
		fc.S3 = filestore.S3Options{
			Endpoint:  c.Storage.S3Endpoint,
			AccessKey: c.Storage.S3AccessKey,
			SecretKey: c.Storage.S3SecretKey,
			Region:    c.Storage.S3Region,
			UseSSL:    c.Storage.S3UseSSL,
			Bucket:    c.Storage.S3Bucket,
			Prefix:    c.Storage.S3Prefix,
		}
	}
	return fc
}

// MetricsLabels maps the metrics section onto the collector labels.
func (c *Config) MetricsLabels() metrics.Config {
	return metrics.Config{
		Namespace:   "pricesync",
		ServiceName: "pricesync",
		Environment: c.Metrics.Environment,
	}
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
