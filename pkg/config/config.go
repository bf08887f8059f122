// Package config provides environment-based configuration for the log engine
// binaries, with an optional YAML file underneath the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed drivers.
const (
	FeedPostgres = "postgres"
	FeedNATS     = "nats"
	FeedMemory   = "memory"
)

// Config holds all configuration for the log engine.
type Config struct {
	// Database configuration
	DatabaseDSN string `yaml:"database_url"`

	// Authentication
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// Server configuration
	APIPort int    `yaml:"api_port"`
	APIHost string `yaml:"api_host"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or text

	// Stream configuration
	Stream StreamConfig `yaml:"stream"`

	// Narrator pacing
	Narrator NarratorConfig `yaml:"narrator"`

	// Archive destination
	Archive ArchiveConfig `yaml:"archive"`
}

// StreamConfig holds change feed and polling configuration.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	FeedDriver   string        `yaml:"feed_driver"`
	NATSURL      string        `yaml:"nats_url"`
}

// NarratorConfig bounds the pause between narrated entries.
type NarratorConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// ArchiveConfig holds the S3 archive destination. Archiving is disabled
// when Bucket is empty.
type ArchiveConfig struct {
	Bucket   string `yaml:"s3_bucket"`
	Region   string `yaml:"s3_region"`
	Endpoint string `yaml:"s3_endpoint"` // MinIO and other S3-compatible stores
	Prefix   string `yaml:"s3_prefix"`
}

// Enabled reports whether an archive bucket is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	return &Config{
		DatabaseDSN:     "postgres://localhost:5432/deploylogs?sslmode=disable",
		JWTExpiry:       24 * time.Hour,
		APIPort:         8080,
		APIHost:         "0.0.0.0",
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		Stream: StreamConfig{
			PollInterval: 2 * time.Second,
			FeedDriver:   FeedPostgres,
			NATSURL:      "nats://localhost:4222",
		},
		Narrator: NarratorConfig{
			MinDelay: 800 * time.Millisecond,
			MaxDelay: 2000 * time.Millisecond,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "deployment-logs",
		},
	}
}

// Load reads configuration from the file named by CONFIG_FILE, if any, and
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg, err := load()
	if err != nil {
		cfg = Defaults()
		applyEnv(cfg)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-key-min-32-chars"
	}
	return cfg
}

func load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.DatabaseDSN = getEnv("DATABASE_URL", c.DatabaseDSN)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiry = getDurationEnv("JWT_EXPIRY", c.JWTExpiry)
	c.APIPort = getIntEnv("API_PORT", c.APIPort)
	c.APIHost = getEnv("API_HOST", c.APIHost)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Stream.PollInterval = getDurationEnv("POLL_INTERVAL", c.Stream.PollInterval)
	c.Stream.FeedDriver = getEnv("FEED_DRIVER", c.Stream.FeedDriver)
	c.Stream.NATSURL = getEnv("NATS_URL", c.Stream.NATSURL)
	c.Narrator.MinDelay = getDurationEnv("NARRATOR_MIN_DELAY", c.Narrator.MinDelay)
	c.Narrator.MaxDelay = getDurationEnv("NARRATOR_MAX_DELAY", c.Narrator.MaxDelay)
	c.Archive.Bucket = getEnv("ARCHIVE_S3_BUCKET", c.Archive.Bucket)
	c.Archive.Region = getEnv("ARCHIVE_S3_REGION", c.Archive.Region)
	c.Archive.Endpoint = getEnv("ARCHIVE_S3_ENDPOINT", c.Archive.Endpoint)
	c.Archive.Prefix = getEnv("ARCHIVE_S3_PREFIX", c.Archive.Prefix)
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Narrator.MinDelay < 0 || c.Narrator.MaxDelay < c.Narrator.MinDelay {
		return fmt.Errorf("NARRATOR_MIN_DELAY must be non-negative and not exceed NARRATOR_MAX_DELAY")
	}
	switch c.Stream.FeedDriver {
	case FeedPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_URL is required with FEED_DRIVER=%s", FeedPostgres)
		}
	case FeedNATS:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_URL is required with FEED_DRIVER=%s", FeedNATS)
		}
		if c.Stream.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required with FEED_DRIVER=%s", FeedNATS)
		}
	case FeedMemory:
	default:
		return fmt.Errorf("unknown FEED_DRIVER %q", c.Stream.FeedDriver)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
