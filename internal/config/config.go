// Package config provides configuration parsing and validation for dispatch.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete proxy configuration. Listen, Tunnel, Auto,
// Egress, Log.Quiet and Metrics.Address have CLI flag equivalents, and flags
// override file values; Log.Level, Log.Format and Limits are file-only.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Tunnel  bool          `yaml:"tunnel"`
	Auto    bool          `yaml:"auto"`
	Egress  []string      `yaml:"egress"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ListenConfig is the local SOCKS/tunnel listener endpoint.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// Address joins host and port, bracketing IPv6 literals.
func (l ListenConfig) Address() string {
	return net.JoinHostPort(l.Host, fmt.Sprintf("%d", l.Port))
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Quiet  bool   `yaml:"quiet"`
}

// MetricsConfig controls the optional health/metrics HTTP endpoint.
type MetricsConfig struct {
	// Address to serve /healthz and /metrics on. Empty disables the server.
	Address string `yaml:"address"`
}

// LimitsConfig bounds resource usage.
type LimitsConfig struct {
	// MaxConnections caps concurrent client connections. 0 = unlimited.
	MaxConnections int `yaml:"max_connections"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency. All problems are
// collected before failing so the operator sees them at once.
func (c *Config) Validate() error {
	var errs []string

	if net.ParseIP(c.Listen.Host) == nil {
		errs = append(errs, fmt.Sprintf("invalid listen host: %s", c.Listen.Host))
	}
	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}
	if c.Auto && c.Tunnel {
		errs = append(errs, "auto-detect and tunnel mode are mutually exclusive")
	}
	if !c.Auto && len(c.Egress) == 0 {
		errs = append(errs, "at least one egress specification is required (or enable auto)")
	}
	if c.Limits.MaxConnections < 0 {
		errs = append(errs, "max_connections must not be negative")
	}

	for i, spec := range c.Egress {
		if _, err := ParseEgressSpec(spec, c.Tunnel); err != nil {
			errs = append(errs, fmt.Sprintf("egress[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	}
	return false
}
