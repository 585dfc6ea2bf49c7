package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default backend: %q", cfg.DBBackend)
	}
	if cfg.WatchdogMargin != 2*time.Second {
		t.Fatalf("unexpected watchdog margin: %v", cfg.WatchdogMargin)
	}
	if cfg.NodeAddr == "" {
		t.Fatal("expected default node address")
	}
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("BRAGI_NODE_ADDR", "node.internal:2333")
	t.Setenv("BRAGI_NODE_PASSWORD", "supersecret")
	t.Setenv("BRAGI_WATCHDOG_MARGIN_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NodeAddr != "node.internal:2333" {
		t.Fatalf("unexpected node address: %q", cfg.NodeAddr)
	}
	if cfg.NodePassword != "supersecret" {
		t.Fatalf("unexpected node password: %q", cfg.NodePassword)
	}
	if cfg.WatchdogMargin != 5*time.Second {
		t.Fatalf("unexpected watchdog margin: %v", cfg.WatchdogMargin)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("NODE_PASSWORD", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRejectsDefaultNodePassword(t *testing.T) {
	t.Setenv("BRAGI_ENV", "production")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with default node password")
	}

	t.Setenv("BRAGI_NODE_PASSWORD", "strongpassword")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load to succeed: %v", err)
	}
}
