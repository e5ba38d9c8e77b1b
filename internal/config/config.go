// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the esed daemon configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rail drivers
const (
	RailDriverMemory = "memory"
	RailDriverGPIO   = "gpio"
)

// Config represents the complete daemon configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Rail      RailConfig      `yaml:"rail"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Health    HealthConfig    `yaml:"health"`
}

// ServerConfig contains the Unix socket settings
type ServerConfig struct {
	SocketPath      string        `yaml:"socket_path"`
	SocketMode      string        `yaml:"socket_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArbiterConfig tunes the access arbiter
type ArbiterConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MailboxSize      int           `yaml:"mailbox_size"`
	AuditCapacity    int           `yaml:"audit_capacity"`
}

// RailConfig selects and configures the supply rail driver
type RailConfig struct {
	Driver           string        `yaml:"driver"`
	Chip             string        `yaml:"chip"`
	SupplyOffset     uint32        `yaml:"supply_offset"`
	CommEnableOffset uint32        `yaml:"comm_enable_offset"`
	ActiveLow        bool          `yaml:"active_low"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	Path            string        `yaml:"path"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// RateLimitConfig controls per-caller rate limiting on the socket
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// HealthConfig controls the health endpoints
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration that runs the daemon against the
// in-memory rail.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			SocketPath:      "/run/esed/esed.sock",
			SocketMode:      "0660",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Arbiter: ArbiterConfig{
			HandshakeTimeout: 500 * time.Millisecond,
			MailboxSize:      16,
			AuditCapacity:    4096,
		},
		Rail: RailConfig{
			Driver:      RailDriverMemory,
			SettleDelay: 10 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			Address:         "127.0.0.1:9464",
			Path:            "/metrics",
			CollectInterval: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{Enabled: false, RequestsPerSecond: 50, Burst: 100},
		Health:    HealthConfig{Enabled: true},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv returns Default with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies ESED_* environment variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESED_SOCKET"); v != "" {
		cfg.Server.SocketPath = v
	}
	if v := os.Getenv("ESED_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ESED_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	envDuration("ESED_HANDSHAKE_TIMEOUT", &cfg.Arbiter.HandshakeTimeout)
	if v := os.Getenv("ESED_RAIL_DRIVER"); v != "" {
		cfg.Rail.Driver = v
	}
	if v := os.Getenv("ESED_RAIL_CHIP"); v != "" {
		cfg.Rail.Chip = v
	}
	envDuration("ESED_RAIL_SETTLE_DELAY", &cfg.Rail.SettleDelay)
	if v := os.Getenv("ESED_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid ESED_METRICS_ENABLED value %q, keeping %t: %v", v, cfg.Metrics.Enabled, err)
		} else {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("ESED_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s value %q, keeping %s: %v", name, v, *dst, err)
		return
	}
	*dst = d
}

// SocketFileMode parses Server.SocketMode as an octal permission.
func (c *Config) SocketFileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Server.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket mode %q: %w", c.Server.SocketMode, err)
	}
	if mode > 0o777 {
		return 0, fmt.Errorf("invalid socket mode %q: out of range", c.Server.SocketMode)
	}
	return os.FileMode(mode), nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.SocketPath == "" {
		return fmt.Errorf("server socket_path is required")
	}
	if _, err := c.SocketFileMode(); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	if c.Arbiter.HandshakeTimeout <= 0 {
		return fmt.Errorf("arbiter handshake_timeout must be positive")
	}
	if c.Arbiter.MailboxSize < 1 {
		return fmt.Errorf("arbiter mailbox_size must be at least 1")
	}
	if c.Arbiter.AuditCapacity < 0 {
		return fmt.Errorf("arbiter audit_capacity must not be negative")
	}

	switch c.Rail.Driver {
	case RailDriverMemory:
	case RailDriverGPIO:
		if c.Rail.Chip == "" {
			return fmt.Errorf("rail chip is required for the gpio driver")
		}
		if c.Rail.SupplyOffset == c.Rail.CommEnableOffset {
			return fmt.Errorf("rail supply_offset and comm_enable_offset must differ")
		}
	default:
		return fmt.Errorf("invalid rail driver: %s (must be memory or gpio)", c.Rail.Driver)
	}
	if c.Rail.SettleDelay < 0 {
		return fmt.Errorf("rail settle_delay must not be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
		if c.Metrics.CollectInterval <= 0 {
			return fmt.Errorf("metrics collect_interval must be positive")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit requests_per_second must be positive when enabled")
	}
	return nil
}
