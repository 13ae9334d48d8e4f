package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for hourglass-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, the
// JWT signing key) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Auth configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional report cache)
	Redis RedisConfig `yaml:"redis"`

	// Sync pipeline tunables
	Sync SyncConfig `yaml:"sync"`

	// Billing defaults
	Billing BillingConfig `yaml:"billing"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development; requests then carry the tenant
	// in the X-Tenant-ID header.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// SigningKey is the HMAC key used to verify tenant tokens.
	SigningKey string `yaml:"-" env:"AUTH_SIGNING_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	// URL, when set, overrides the individual connection fields.
	URL            string `yaml:"-" env:"DATABASE_URL"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"hourglass"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"hourglass_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration for the report cache.
// Leave Host empty to run without a cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// CacheTTL is how long computed report aggregates stay cached.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"15m"`
}

// SyncConfig holds sync pipeline tunables.
type SyncConfig struct {
	// BatchSize is the number of records upserted per storage commit.
	BatchSize int `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"100"`
	// MaxBatchRetries bounds retries of a transiently failing batch before
	// it is skipped and the run continues.
	MaxBatchRetries int `yaml:"max_batch_retries" env:"SYNC_MAX_BATCH_RETRIES" env-default:"3"`
	// ConnectTimeout applies to the initial connection/auth probe.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"SYNC_CONNECT_TIMEOUT" env-default:"10s"`
	// PageTimeout applies to each page fetch while streaming.
	PageTimeout time.Duration `yaml:"page_timeout" env:"SYNC_PAGE_TIMEOUT" env-default:"2m"`
	// StaleRunThreshold is how long a RUNNING sync run may go without
	// progress before the sweeper reclaims it as failed.
	StaleRunThreshold time.Duration `yaml:"stale_run_threshold" env:"SYNC_STALE_RUN_THRESHOLD" env-default:"1h"`
	// SweepInterval is how often the stale-run sweeper wakes up.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SYNC_SWEEP_INTERVAL" env-default:"5m"`
	// MaxConcurrentSources caps parallel source syncs per process.
	MaxConcurrentSources int `yaml:"max_concurrent_sources" env:"SYNC_MAX_CONCURRENT_SOURCES" env-default:"4"`
}

// BillingConfig holds billing defaults.
type BillingConfig struct {
	// DefaultDailyHours is the fallback expected-hours baseline for tenants
	// that have not configured their own working day length.
	DefaultDailyHours float64 `yaml:"default_daily_hours" env:"BILLING_DEFAULT_DAILY_HOURS" env-default:"8"`
	// Currency used when a client has no explicit billing currency.
	DefaultCurrency string `yaml:"default_currency" env:"BILLING_DEFAULT_CURRENCY" env-default:"EUR"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only.
// Used in tests and environments without a config.yaml.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.EnableVerification && c.Auth.SigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when auth verification is enabled")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxBatchRetries < 0 {
		return fmt.Errorf("sync max_batch_retries must not be negative, got %d", c.Sync.MaxBatchRetries)
	}
	if c.Billing.DefaultDailyHours <= 0 || c.Billing.DefaultDailyHours > 24 {
		return fmt.Errorf("billing default_daily_hours must be in (0, 24], got %v", c.Billing.DefaultDailyHours)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
