package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address %q", cfg.Server.Address)
	}
	if cfg.LLM.MaxRetries != 1 {
		t.Fatalf("unexpected default retries %d", cfg.LLM.MaxRetries)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache should default to disabled")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  address: \":9090\"\n  gracefulTimeout: 3s\nrouting:\n  environment: staging\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TICKET_ROUTER_REGION", "eu-central")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("file value not applied: %q", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 3*time.Second {
		t.Fatalf("duration not parsed: %v", cfg.Server.GracefulTimeout)
	}
	if cfg.Routing.Environment != "staging" || cfg.Routing.Region != "eu-central" {
		t.Fatalf("overlay selectors wrong: %+v", cfg.Routing)
	}
}
