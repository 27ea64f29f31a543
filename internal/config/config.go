// Package config loads server configuration from defaults, an optional
// YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	Domain    string        `yaml:"domain"`     // wildcard base zone, e.g. oob.example.com
	ServerIP  string        `yaml:"server_ip"`  // IPv4 returned for A queries
	DBPath    string        `yaml:"db"`
	GeoDBPath string        `yaml:"geoip_db"`   // MaxMind mmdb path, empty disables geolocation
	HTTPPort  int           `yaml:"http_port"`
	DNSPort   int           `yaml:"dns_port"`
	APIPort   int           `yaml:"api_port"`

	SubdomainTTL  time.Duration `yaml:"subdomain_ttl"`  // default lifetime of random subdomains
	ScriptTTL     time.Duration `yaml:"script_ttl"`     // lifetime of ephemeral scripts
	SweepInterval time.Duration `yaml:"sweep_interval"` // lifecycle sweeper tick
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Domain:        "localhost",
		ServerIP:      "127.0.0.1",
		DBPath:        "snare.db",
		HTTPPort:      80,
		DNSPort:       53,
		APIPort:       8081,
		SubdomainTTL:  10 * time.Minute,
		ScriptTTL:     5 * time.Minute,
		SweepInterval: 60 * time.Second,
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and
// SNARE_* environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("SNARE_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("SNARE_SERVER_IP"); v != "" {
		c.ServerIP = v
	}
	if v := os.Getenv("SNARE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SNARE_GEOIP_DB"); v != "" {
		c.GeoDBPath = v
	}
	if v, ok := envInt("SNARE_HTTP_PORT"); ok {
		c.HTTPPort = v
	}
	if v, ok := envInt("SNARE_DNS_PORT"); ok {
		c.DNSPort = v
	}
	if v, ok := envInt("SNARE_API_PORT"); ok {
		c.APIPort = v
	}
	if v, ok := envDuration("SNARE_SUBDOMAIN_TTL"); ok {
		c.SubdomainTTL = v
	}
	if v, ok := envDuration("SNARE_SCRIPT_TTL"); ok {
		c.ScriptTTL = v
	}
	if v, ok := envDuration("SNARE_SWEEP_INTERVAL"); ok {
		c.SweepInterval = v
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain must not be empty")
	}
	for name, port := range map[string]int{"http_port": c.HTTPPort, "dns_port": c.DNSPort, "api_port": c.APIPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.SubdomainTTL <= 0 {
		return fmt.Errorf("subdomain_ttl must be positive")
	}
	if c.ScriptTTL <= 0 {
		return fmt.Errorf("script_ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}

func envInt(key string) (int, bool) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i, true
		}
	}
	return 0, false
}

func envDuration(key string) (time.Duration, bool) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	}
	return 0, false
}
