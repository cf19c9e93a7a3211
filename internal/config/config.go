package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before they become config
// keys: EV_DATABASE_HOST overrides database.host.
const envPrefix = "EV_"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Source    SourceConfig    `koanf:"source"`
	Redis     RedisConfig     `koanf:"redis"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Database        string        `koanf:"name"`
	SSLMode         string        `koanf:"sslmode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// SourceConfig is the discriminated source choice: a local path or a remote
// object, selected by Kind.
type SourceConfig struct {
	Kind           string `koanf:"kind"`
	LocalPath      string `koanf:"local_path"`
	S3Bucket       string `koanf:"s3_bucket"`
	S3Key          string `koanf:"s3_key"`
	AWSRegion      string `koanf:"aws_region"`
	AWSAccessKeyID string `koanf:"aws_access_key_id"`
	AWSSecretKey   string `koanf:"aws_secret_access_key"`
}

// RedisConfig configures the optional analytics response cache.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	CacheEnabled bool          `koanf:"cache_enabled"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

// PipelineConfig carries the ETL knobs.
type PipelineConfig struct {
	BatchSize    int `koanf:"batch_size"`
	SampleCap    int `koanf:"sample_cap"`
	MinModelYear int `koanf:"min_model_year"`
	// YearSlack is how far past the current year a model year may run;
	// manufacturers pre-announce next-year models.
	YearSlack int `koanf:"year_slack"`
}

// AnalyticsConfig carries the query-side knobs.
type AnalyticsConfig struct {
	MaxPageSize     int `koanf:"max_page_size"`
	DefaultPageSize int `koanf:"default_page_size"`
	SummaryTopN     int `koanf:"summary_top_n"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `koanf:"level"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":          "0.0.0.0",
		"server.port":          8000,
		"server.read_timeout":  15 * time.Second,
		"server.write_timeout": 30 * time.Second,
		"server.idle_timeout":  60 * time.Second,

		"database.host":               "localhost",
		"database.port":               5432,
		"database.user":               "postgres",
		"database.password":           "postgres",
		"database.name":               "ev_analytics",
		"database.sslmode":            "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,

		"source.kind":       "local",
		"source.local_path": "./data/raw/Electric_Vehicle_Population_Data.csv",
		"source.aws_region": "us-west-2",

		"redis.url":           "redis://localhost:6379/0",
		"redis.cache_enabled": false,
		"redis.cache_ttl":     time.Hour,

		"pipeline.batch_size":     10000,
		"pipeline.sample_cap":     100,
		"pipeline.min_model_year": 1997,
		"pipeline.year_slack":     2,

		"analytics.max_page_size":     100,
		"analytics.default_page_size": 20,
		"analytics.summary_top_n":     10,

		"logging.level": "info",
	}
}

// LoadConfig builds the configuration from defaults overlaid with EV_-
// prefixed environment variables.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// EV_DATABASE_MAX_OPEN_CONNS -> database.max_open_conns: only the first
	// underscore separates the section from the key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host must not be empty")
	}
	switch c.Source.Kind {
	case "local":
		if c.Source.LocalPath == "" {
			return fmt.Errorf("source.local_path must be set for a local source")
		}
	case "s3":
		if c.Source.S3Bucket == "" || c.Source.S3Key == "" {
			return fmt.Errorf("source.s3_bucket and source.s3_key must be set for an s3 source")
		}
	default:
		return fmt.Errorf("invalid source kind: %q (expected local or s3)", c.Source.Kind)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline batch size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Analytics.MaxPageSize <= 0 {
		return fmt.Errorf("analytics max page size must be positive, got %d", c.Analytics.MaxPageSize)
	}
	if c.Analytics.DefaultPageSize <= 0 || c.Analytics.DefaultPageSize > c.Analytics.MaxPageSize {
		return fmt.Errorf("analytics default page size must be in [1, %d], got %d",
			c.Analytics.MaxPageSize, c.Analytics.DefaultPageSize)
	}
	if c.Analytics.SummaryTopN <= 0 {
		return fmt.Errorf("analytics summary top-n must be positive, got %d", c.Analytics.SummaryTopN)
	}
	return nil
}
