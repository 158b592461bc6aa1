// Package config handles TOML configuration parsing and validation for arpd.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for arpd.
type Config struct {
	Server  ServerConfig    `toml:"server"`
	Metrics MetricsConfig   `toml:"metrics"`
	Static  []StaticBinding `toml:"static"`
}

// ServerConfig holds core daemon settings.
type ServerConfig struct {
	Interfaces  []string `toml:"interfaces"`
	ControlAddr string   `toml:"control_addr"`
	DefaultTTL  int32    `toml:"default_ttl"`
	LogLevel    string   `toml:"log_level"`
	DBPath      string   `toml:"db_path"`
}

// MetricsConfig holds the Prometheus HTTP endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// StaticBinding pins an IP to a MAC at startup with no expiry (TTL=-1 in
// the cache). IP and MAC are parsed and validated during Load.
type StaticBinding struct {
	IP  string `toml:"ip"`
	MAC string `toml:"mac"`
}

// ParsedIP returns the binding's IP as a net.IP; callers should call
// validate (via Load) before relying on this succeeding.
func (s StaticBinding) ParsedIP() net.IP {
	return net.ParseIP(s.IP)
}

// ParsedMAC returns the binding's MAC as a net.HardwareAddr.
func (s StaticBinding) ParsedMAC() (net.HardwareAddr, error) {
	return net.ParseMAC(s.MAC)
}

// Load reads, parses, defaults, and validates a TOML config file.
// cliInterfaces, when non-empty, overrides server.interfaces from the
// file — it is applied before validation so a daemon invoked with
// interface names on argv doesn't need a pre-existing config file that
// already lists one.
func Load(path string, cliInterfaces ...string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if len(cliInterfaces) > 0 {
		cfg.Server.Interfaces = cliInterfaces
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ControlAddr == "" {
		cfg.Server.ControlAddr = DefaultControlAddr
	}
	if cfg.Server.DefaultTTL == 0 {
		cfg.Server.DefaultTTL = DefaultBindingTTL
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = DefaultDBPath
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}

func validate(cfg *Config) error {
	if len(cfg.Server.Interfaces) == 0 {
		return fmt.Errorf("server.interfaces must list at least one interface")
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ControlAddr); err != nil {
		return fmt.Errorf("server.control_addr: %w", err)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	if cfg.Server.DefaultTTL <= 0 && cfg.Server.DefaultTTL != -1 {
		return fmt.Errorf("server.default_ttl must be positive or -1 (permanent)")
	}

	seen := make(map[string]bool, len(cfg.Static))
	for i, s := range cfg.Static {
		ip := s.ParsedIP()
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("static[%d]: %q is not a valid IPv4 address", i, s.IP)
		}
		if _, err := s.ParsedMAC(); err != nil {
			return fmt.Errorf("static[%d]: %w", i, err)
		}
		if seen[s.IP] {
			return fmt.Errorf("static[%d]: duplicate IP %s", i, s.IP)
		}
		seen[s.IP] = true
	}

	return nil
}

// ControlPort extracts the numeric port from ControlAddr. The daemon
// listens on ControlAddr as configured, host included.
func (c *Config) ControlPort() (int, error) {
	_, portStr, err := net.SplitHostPort(c.Server.ControlAddr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
