package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Domain != "localhost" {
		t.Errorf("domain = %q", cfg.Domain)
	}
	if cfg.SubdomainTTL != 10*time.Minute {
		t.Errorf("subdomain ttl = %v", cfg.SubdomainTTL)
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Errorf("sweep interval = %v", cfg.SweepInterval)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Domain != "localhost" {
		t.Errorf("domain = %q, want default", cfg.Domain)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `domain: oob.example.com
server_ip: 203.0.113.5
http_port: 8080
subdomain_ttl: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Domain != "oob.example.com" {
		t.Errorf("domain = %q", cfg.Domain)
	}
	if cfg.ServerIP != "203.0.113.5" {
		t.Errorf("server_ip = %q", cfg.ServerIP)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("http_port = %d", cfg.HTTPPort)
	}
	if cfg.SubdomainTTL != 30*time.Minute {
		t.Errorf("subdomain_ttl = %v", cfg.SubdomainTTL)
	}
	// Unset fields keep defaults.
	if cfg.DNSPort != 53 {
		t.Errorf("dns_port = %d, want default 53", cfg.DNSPort)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("domain: fromfile.test\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SNARE_DOMAIN", "fromenv.test")
	t.Setenv("SNARE_API_PORT", "9999")
	t.Setenv("SNARE_SCRIPT_TTL", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Domain != "fromenv.test" {
		t.Errorf("domain = %q, want env override", cfg.Domain)
	}
	if cfg.APIPort != 9999 {
		t.Errorf("api_port = %d", cfg.APIPort)
	}
	if cfg.ScriptTTL != 2*time.Minute {
		t.Errorf("script_ttl = %v", cfg.ScriptTTL)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("domain: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty domain", func(c *Config) { c.Domain = "" }},
		{"port zero", func(c *Config) { c.HTTPPort = 0 }},
		{"port too large", func(c *Config) { c.DNSPort = 70000 }},
		{"zero subdomain ttl", func(c *Config) { c.SubdomainTTL = 0 }},
		{"negative script ttl", func(c *Config) { c.ScriptTTL = -time.Second }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
