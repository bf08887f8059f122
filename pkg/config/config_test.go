package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("FEED_DRIVER", "nats")
	t.Setenv("API_PORT", "9000")
	t.Setenv("ARCHIVE_S3_BUCKET", "logs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Stream.PollInterval)
	}
	if cfg.Stream.FeedDriver != FeedNATS || cfg.APIPort != 9000 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.Prefix != "deployment-logs" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Narrator.MinDelay != 800*time.Millisecond || cfg.Narrator.MaxDelay != 2*time.Second {
		t.Errorf("narrator = %+v", cfg.Narrator)
	}
}

func TestLoad_FileUnderEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploylogs.yaml")
	content := `
jwt_secret: file-secret-that-is-long-enough-000
api_port: 7000
stream:
  poll_interval: 5s
  feed_driver: memory
narrator:
  min_delay: 10ms
  max_delay: 20ms
archive:
  s3_bucket: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("API_PORT", "7100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != 7100 {
		t.Errorf("APIPort = %d, env should win", cfg.APIPort)
	}
	if cfg.JWTSecret != "file-secret-that-is-long-enough-000" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.Stream.PollInterval != 5*time.Second || cfg.Stream.FeedDriver != FeedMemory {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Narrator.MaxDelay != 20*time.Millisecond || cfg.Archive.Bucket != "from-file" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.APIHost != "0.0.0.0" {
		t.Errorf("APIHost = %q, want default", cfg.APIHost)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stream: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", testSecret)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected read error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"zero poll interval", func(c *Config) { c.Stream.PollInterval = 0 }, true},
		{"inverted narrator window", func(c *Config) { c.Narrator.MinDelay = 3 * time.Second }, true},
		{"negative narrator delay", func(c *Config) { c.Narrator.MinDelay = -time.Second }, true},
		{"unknown feed", func(c *Config) { c.Stream.FeedDriver = "kafka" }, true},
		{"postgres feed without database", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"nats feed without url", func(c *Config) { c.Stream.FeedDriver = FeedNATS; c.Stream.NATSURL = "" }, true},
		{"nats feed", func(c *Config) { c.Stream.FeedDriver = FeedNATS }, false},
		{"memory feed without database", func(c *Config) { c.Stream.FeedDriver = FeedMemory; c.DatabaseDSN = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.JWTSecret = testSecret
			tt.edit(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadWithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("development defaults should validate: %v", err)
	}
}
