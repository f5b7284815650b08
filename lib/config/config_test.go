package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		Host string `envconfig:"TEST_SERVER_HOST" default:"localhost" yaml:"host"`
		Port int    `envconfig:"TEST_SERVER_PORT" default:"1234" yaml:"port"`
	} `yaml:"server"`
	Lease struct {
		Duration time.Duration `envconfig:"TEST_LEASE_DURATION" default:"60s" yaml:"duration"`
	} `yaml:"lease"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg testConfig
	if err := Load("", &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "localhost" || cfg.Server.Port != 1234 {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}

	if cfg.Lease.Duration != time.Minute {
		t.Fatalf("unexpected lease duration %v", cfg.Lease.Duration)
	}
}

func TestLoadEnvThenYAML(t *testing.T) {
	t.Setenv("TEST_SERVER_HOST", "10.0.0.1")

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	err := os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o644)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "10.0.0.1" {
		t.Fatalf("env value lost, got %q", cfg.Server.Host)
	}

	if cfg.Server.Port != 4000 {
		t.Fatalf("yaml value not applied, got %d", cfg.Server.Port)
	}
}
