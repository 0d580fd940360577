// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/request-forwarder/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the forwarder itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/proxy", "/health", "/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	DefaultTimeout int    `kong:"help='Default outbound timeout in seconds (overrides config).',env='DEFAULT_TIMEOUT'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Forwarder ForwarderConfig `toml:"forwarder"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ForwarderConfig holds outbound call settings.
type ForwarderConfig struct {
	DefaultTimeoutSeconds int      `toml:"default_timeout_seconds"`
	MaxResponseBytes      int64    `toml:"max_response_bytes"`
	AllowedHosts          []string `toml:"allowed_hosts"`
	UserAgent             string   `toml:"user_agent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/request-forwarder/config.toml then configs/config.toml. If none of
// those exist the defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.DefaultTimeout != 0 {
		c.Forwarder.DefaultTimeoutSeconds = cli.DefaultTimeout
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Forwarder.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("forwarder.default_timeout_seconds must be non-negative; got %d", c.Forwarder.DefaultTimeoutSeconds)
	}
	if c.Forwarder.MaxResponseBytes < 0 {
		return fmt.Errorf("forwarder.max_response_bytes must be non-negative; got %d", c.Forwarder.MaxResponseBytes)
	}
	for _, h := range c.Forwarder.AllowedHosts {
		if strings.TrimSpace(h) == "" {
			return errors.New("forwarder.allowed_hosts must not contain empty entries")
		}
		if strings.ContainsAny(h, "/:") {
			return fmt.Errorf("forwarder.allowed_hosts entries must be bare host names; got %q", h)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, DefaultTimeoutSeconds, etc.), zero means "unset"
// because TOML cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Forwarder.DefaultTimeoutSeconds == 0 {
		c.Forwarder.DefaultTimeoutSeconds = 30
	}
	if c.Forwarder.MaxResponseBytes == 0 {
		c.Forwarder.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.Forwarder.UserAgent == "" {
		c.Forwarder.UserAgent = "request-forwarder/1.0"
	}
	for i, h := range c.Forwarder.AllowedHosts {
		c.Forwarder.AllowedHosts[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
