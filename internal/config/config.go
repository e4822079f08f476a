package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config struct for environment variables.
type Config struct {
	BatchSize   int    `envconfig:"BATCH_SIZE" default:"3"`
	CatalogPath string `envconfig:"CATALOG_PATH" default:"final_download_links.json"`
	DestDir     string `envconfig:"DEST_DIR" default:"downloads"`

	ProgressBackend string `envconfig:"PROGRESS_BACKEND" default:"file"`
	ProgressDBPath  string `envconfig:"PROGRESS_DB_PATH" default:"downloads.db"`

	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"0"`
	StallTimeout     time.Duration `envconfig:"STALL_TIMEOUT" default:"2m"`
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"5s"`
	UserAgent        string        `envconfig:"USER_AGENT" default:"batch_downloader/1.0"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	StatusAddr string `envconfig:"STATUS_ADDR"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"batch_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values that cannot be expressed as envconfig tags.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}

	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("catalog path is required")
	}

	if strings.TrimSpace(c.DestDir) == "" {
		return fmt.Errorf("destination directory is required")
	}

	switch c.ProgressBackend {
	case BackendFile:
	case BackendSQLite:
		if c.ProgressDBPath == "" {
			return fmt.Errorf("progress db path is required for the %s backend", BackendSQLite)
		}
	default:
		return fmt.Errorf("unknown progress backend: %q", c.ProgressBackend)
	}

	if c.FetchTimeout < 0 || c.StallTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
