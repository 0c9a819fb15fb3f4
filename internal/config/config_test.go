package config

import (
	"strings"
	"testing"

	"github.com/inkwell-notes/inkwell/internal/records"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("sync.key", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:3000" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "inkwell.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
	if cfg.VersionMode != records.VersionModeCompat {
		t.Fatalf("unexpected version mode %q", cfg.VersionMode)
	}
	if !cfg.SerializeWrites {
		t.Fatalf("expected serialized writes by default")
	}
}

func TestLoadRequiresSyncKey(t *testing.T) {
	configViper := NewViper()

	_, err := Load(configViper)
	if err == nil || !strings.Contains(err.Error(), "sync.key") {
		t.Fatalf("expected missing sync.key error, got %v", err)
	}
}

func TestLoadRejectsUnknownVersionMode(t *testing.T) {
	configViper := NewViper()
	configViper.Set("sync.key", "secret")
	configViper.Set("store.version_mode", "hybrid")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for unknown version mode")
	}
}

func TestLoadOverrides(t *testing.T) {
	configViper := NewViper()
	configViper.Set("sync.key", "secret")
	configViper.Set("http.address", "127.0.0.1:8080")
	configViper.Set("store.version_mode", "strict")
	configViper.Set("store.serialize_writes", false)
	configViper.Set("sync.server_url", "https://sync.example.com")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.VersionMode != records.VersionModeStrict {
		t.Fatalf("unexpected version mode %q", cfg.VersionMode)
	}
	if cfg.SerializeWrites {
		t.Fatalf("expected serialized writes disabled")
	}
	if cfg.SyncServerURL != "https://sync.example.com" {
		t.Fatalf("unexpected server url %q", cfg.SyncServerURL)
	}
}
