// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Fetch providers.
const (
	ProviderRender = "render"
	ProviderColly  = "colly"
)

// Archive backends. An empty backend disables archiving.
const (
	ArchiveNone   = ""
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RegistryConfig points at the company registry being searched.
type RegistryConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	LinkClass string `mapstructure:"link_class"`
}

// ProviderConfig selects and configures the page fetcher.
type ProviderConfig struct {
	Kind          string `mapstructure:"kind"`
	Endpoint      string `mapstructure:"endpoint"`
	APIKey        string `mapstructure:"api_key"`
	AuthScheme    string `mapstructure:"auth_scheme"`
	SettleSeconds int    `mapstructure:"settle_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// PipelineConfig sizes the shared fetch and parse pools.
type PipelineConfig struct {
	MaxInFlight         int `mapstructure:"max_in_flight"`
	ParseWorkers        int `mapstructure:"parse_workers"`
	PerRunParallel      int `mapstructure:"per_run_parallel"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

// JobsConfig governs background job execution.
type JobsConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueDepth     int `mapstructure:"queue_depth"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StoreConfig selects the KV backend behind the job store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls access to the Postgres KV table.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles outbound fetches per host.
type RateLimitConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	HostRPS      map[string]float64 `mapstructure:"host_rps"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGISTRY")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("registry.base_url", "https://opencorporates.com")
	v.SetDefault("registry.link_class", "company_search_result")
	v.SetDefault("provider.kind", ProviderRender)
	v.SetDefault("provider.endpoint", "https://api.zyte.com/v1/extract")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.auth_scheme", "basic")
	v.SetDefault("provider.settle_seconds", 2)
	v.SetDefault("provider.user_agent", "registry-crawler/0.1")
	v.SetDefault("provider.respect_robots", true)
	v.SetDefault("pipeline.max_in_flight", 16)
	v.SetDefault("pipeline.parse_workers", 4)
	v.SetDefault("pipeline.per_run_parallel", 8)
	v.SetDefault("pipeline.fetch_timeout_seconds", 60)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.timeout_seconds", 600)
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "kv_records")
	v.SetDefault("store.postgres.max_conns", 8)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.sqlite.path", "registry.db")
	v.SetDefault("store.sqlite.table", "kv_records")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local_dir", "data/pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "registry-crawler")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	base, err := url.Parse(c.Registry.BaseURL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("registry.base_url must be an absolute URL")
	}
	switch c.Provider.Kind {
	case ProviderRender:
		if c.Provider.Endpoint == "" {
			return fmt.Errorf("provider.endpoint is required for the render provider")
		}
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for the render provider")
		}
		if c.Provider.AuthScheme != "basic" && c.Provider.AuthScheme != "bearer" {
			return fmt.Errorf("provider.auth_scheme must be basic or bearer")
		}
	case ProviderColly:
	default:
		return fmt.Errorf("provider.kind %q is not supported", c.Provider.Kind)
	}
	if c.Pipeline.MaxInFlight <= 0 {
		return fmt.Errorf("pipeline.max_in_flight must be > 0")
	}
	if c.Pipeline.ParseWorkers <= 0 {
		return fmt.Errorf("pipeline.parse_workers must be > 0")
	}
	if c.Pipeline.PerRunParallel <= 0 || c.Pipeline.PerRunParallel > c.Pipeline.MaxInFlight {
		return fmt.Errorf("pipeline.per_run_parallel must be between 1 and pipeline.max_in_flight")
	}
	if c.Pipeline.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.fetch_timeout_seconds must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("rate_limit.default_rps must be > 0 when rate limiting is enabled")
	}
	return nil
}

// FetchTimeout is the per-call fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Pipeline.FetchTimeoutSeconds) * time.Second
}

// JobTimeout bounds one background job. Zero means unbounded.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
