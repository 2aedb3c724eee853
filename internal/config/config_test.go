package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved %s, want %s", resolved, path)
	}
	if cfg.Partitions != 10 || cfg.PresenceTTL != 30*time.Second || cfg.ConnectRetries != 10 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if !strings.Contains(string(data), "presence_ttl: 30s") {
		t.Fatalf("unexpected default file:\n%s", data)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	file := "addr: \":9000\"\nbackplane: nats\nsend_timeout: 500ms\n"
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LTCHAT_ADDR", ":9100")
	t.Setenv("LTCHAT_PARTITIONS", "4")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should win over file, got %s", cfg.Addr)
	}
	if cfg.Backplane != DriverNATS || cfg.SendTimeout != 500*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Partitions != 4 {
		t.Fatalf("env partitions not applied: %d", cfg.Partitions)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backplane":        func(c *Config) { c.Backplane = "kafka" },
		"presence store":   func(c *Config) { c.PresenceStore = "nats" },
		"queue":            func(c *Config) { c.Queue = "redis" },
		"partitions":       func(c *Config) { c.Partitions = 0 },
		"worker partition": func(c *Config) { c.WorkerPartitions = []int{10} },
		"secret":           func(c *Config) { c.JWTSecret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
