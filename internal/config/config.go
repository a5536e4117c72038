// Package config loads and validates placesearch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Storage backends for job records.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Blob backends for archived exports.
const (
	BlobNone   = "none"
	BlobMemory = "memory"
	BlobLocal  = "local"
	BlobGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Walker       WalkerConfig       `mapstructure:"walker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Poller       PollerConfig       `mapstructure:"poller"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines the optional static API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProviderConfig points at the external places-search provider.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WalkerConfig bounds pagination for one (variant, city) pair.
type WalkerConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
	EmptyPageLimit int           `mapstructure:"empty_page_limit"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
}

// OrchestratorConfig governs job execution.
type OrchestratorConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	// QueueDepth sizes the initial queue buffer; the queue grows past it.
	QueueDepth      int           `mapstructure:"queue_depth"`
	ProgressEvery   int           `mapstructure:"progress_every"`
	MinCityBudget   int           `mapstructure:"min_city_budget"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
	// RecoverOnStart requeues pending jobs and fails orphaned running jobs
	// when the service starts.
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

// JobsConfig sets submission defaults.
type JobsConfig struct {
	DefaultResultCap int `mapstructure:"default_result_cap"`
	MaxResultCap     int `mapstructure:"max_result_cap"`
}

// StorageConfig selects the job store and the export archive.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	BlobBackend  string `mapstructure:"blob_backend"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	ExportPrefix string `mapstructure:"export_prefix"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig holds completion notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// RateLimitConfig throttles provider requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// PollerConfig configures the client poller.
type PollerConfig struct {
	APIBaseURL  string        `mapstructure:"api_base_url"`
	Interval    time.Duration `mapstructure:"interval"`
	SessionFile string        `mapstructure:"session_file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLACESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("provider.base_url", "https://google.serper.dev/places")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("walker.page_size", 20)
	v.SetDefault("walker.max_pages", 10)
	v.SetDefault("walker.empty_page_limit", 2)
	v.SetDefault("walker.page_delay", "250ms")
	v.SetDefault("orchestrator.concurrency", 4)
	v.SetDefault("orchestrator.queue_depth", 64)
	v.SetDefault("orchestrator.progress_every", 10)
	v.SetDefault("orchestrator.min_city_budget", 100)
	v.SetDefault("orchestrator.finalize_timeout", "10s")
	v.SetDefault("orchestrator.recover_on_start", true)
	v.SetDefault("jobs.default_result_cap", 1000)
	v.SetDefault("jobs.max_result_cap", 5000)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.blob_backend", BlobMemory)
	v.SetDefault("storage.local_dir", "exports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.export_prefix", "exports")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "search_jobs")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "placesearch")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "search-jobs")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("telemetry.service_name", "placesearch")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("poller.api_base_url", "http://localhost:8080")
	v.SetDefault("poller.interval", "2s")
	v.SetDefault("poller.session_file", ".placesearch/session")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be > 0")
	}
	if c.Walker.PageSize <= 0 || c.Walker.MaxPages <= 0 || c.Walker.EmptyPageLimit <= 0 {
		return fmt.Errorf("walker.page_size, walker.max_pages and walker.empty_page_limit must be > 0")
	}
	if c.Orchestrator.Concurrency <= 0 {
		return fmt.Errorf("orchestrator.concurrency must be > 0")
	}
	if c.Orchestrator.QueueDepth <= 0 {
		return fmt.Errorf("orchestrator.queue_depth must be > 0")
	}
	if c.Jobs.DefaultResultCap <= 0 {
		return fmt.Errorf("jobs.default_result_cap must be > 0")
	}
	if c.Jobs.MaxResultCap < c.Jobs.DefaultResultCap {
		return fmt.Errorf("jobs.max_result_cap must be >= jobs.default_result_cap")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.BlobBackend {
	case BlobNone, BlobMemory:
	case BlobLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local blob backend")
		}
	case BlobGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs blob backend")
		}
	default:
		return fmt.Errorf("storage.blob_backend %q is not supported", c.Storage.BlobBackend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}
