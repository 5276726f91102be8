// Package config loads the console configuration from a YAML file, a .env
// file, and environment variables. Environment values win over the file so
// tokens never have to live on disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names. The access token is only ever read from the
// environment or .env, never from YAML.
const (
	EnvAccessToken = "TICKDESK_ACCESS_TOKEN"
	EnvFeedURL     = "TICKDESK_FEED_URL"
	EnvAPIBaseURL  = "TICKDESK_API_BASE_URL"
	EnvLogLevel    = "TICKDESK_LOG_LEVEL"
)

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`

	// AccessToken comes from the environment, not the YAML file.
	AccessToken string `yaml:"-"`
}

type FeedConfig struct {
	URLTemplate            string        `yaml:"url_template"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	ReconnectDelay         time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts   int           `yaml:"max_reconnect_attempts"`
	SubscribeRetryInterval time.Duration `yaml:"subscribe_retry_interval"`
}

type SnapshotConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Output  string `yaml:"output"`
	MaxAge  int    `yaml:"max_age"`
	MaxSize int    `yaml:"max_size"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			ConnectTimeout:         30 * time.Second,
			ReconnectDelay:         5 * time.Second,
			MaxReconnectAttempts:   10,
			SubscribeRetryInterval: 2 * time.Second,
		},
		Snapshot: SnapshotConfig{
			RequestTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9109",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// folds in .env and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// Missing .env is fine; a present one feeds os.Getenv below.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.AccessToken = strings.TrimSpace(os.Getenv(EnvAccessToken))
	if v := strings.TrimSpace(os.Getenv(EnvFeedURL)); v != "" {
		cfg.Feed.URLTemplate = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); v != "" {
		cfg.Snapshot.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.AccessToken == "" {
		return fmt.Errorf("%s is required", EnvAccessToken)
	}
	if cfg.Feed.URLTemplate != "" && !strings.Contains(cfg.Feed.URLTemplate, "{token}") {
		return fmt.Errorf("feed.url_template must contain the {token} placeholder")
	}
	if cfg.Feed.MaxReconnectAttempts < 0 {
		return fmt.Errorf("feed.max_reconnect_attempts must not be negative")
	}
	if cfg.Feed.SubscribeRetryInterval <= 0 {
		return fmt.Errorf("feed.subscribe_retry_interval must be greater than 0")
	}
	if cfg.Metrics.Enabled {
		if _, err := parsePort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	return nil
}

func parsePort(addr string) (int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return 0, fmt.Errorf("address %q has no port", addr)
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("address %q has an invalid port", addr)
	}
	return port, nil
}
