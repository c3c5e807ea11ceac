// Package config provides configuration management for roost.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddr is the default HTTP listen address.
	DefaultListenAddr = "127.0.0.1:8420"
	// DefaultGatewayURL is the default chat gateway endpoint.
	DefaultGatewayURL = "wss://gateway.chat-platform.dev/v1"
	// DefaultRedisChannel is the channel status transitions are published to
	// when a Redis address is configured.
	DefaultRedisChannel = "roost:status"
)

// Config holds runtime configuration for the roost service.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// DatabaseURL selects the storage backend. A postgres:// DSN uses
	// Postgres; empty means SQLite at DBPath().
	DatabaseURL string `yaml:"database_url"`
	GatewayURL  string `yaml:"gateway_url"`
	// RedisAddr enables publishing status transitions to Redis when set.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	LogLevel     string `yaml:"log_level"`
	MaxConns     int    `yaml:"max_conns"`
	// ShutdownTimeoutSecs bounds graceful shutdown of the HTTP server and
	// session drain.
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:          DefaultListenAddr,
		GatewayURL:          DefaultGatewayURL,
		RedisChannel:        DefaultRedisChannel,
		LogLevel:            "info",
		MaxConns:            4,
		ShutdownTimeoutSecs: 15,
	}
}

// DataDir returns the roost data directory (~/.roost).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".roost")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "roost.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// Load reads configuration from the settings file, falling back to defaults
// when the file is absent, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(SettingsPath())
}

// LoadFile reads configuration from path. A missing file is not an error;
// defaults are returned. Environment overrides apply in both cases.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No settings file, defaults apply.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.RedisChannel == "" {
		cfg.RedisChannel = DefaultRedisChannel
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.ShutdownTimeoutSecs <= 0 {
		cfg.ShutdownTimeoutSecs = 15
	}

	return cfg, nil
}

// applyEnv overrides settings from ROOST_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ROOST_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ROOST_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ROOST_GATEWAY_URL"); v != "" {
		cfg.GatewayURL = v
	}
	if v := os.Getenv("ROOST_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("ROOST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
