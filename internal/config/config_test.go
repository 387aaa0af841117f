package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relaycore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "relays:\n  seeds:\n    - wss://relay.example\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Feed.MaxNotes != 1000 {
		t.Errorf("Feed.MaxNotes = %d, want default 1000", cfg.Feed.MaxNotes)
	}
	if cfg.Profile.TTLDays != 7 {
		t.Errorf("Profile.TTLDays = %d, want default 7", cfg.Profile.TTLDays)
	}
	if cfg.Storage.Driver != "badger" {
		t.Errorf("Storage.Driver = %q, want badger", cfg.Storage.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadRejectsMissingSeeds(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: debug\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing relays.seeds, got nil")
	}
}

func TestLoadRejectsBadStorageDriver(t *testing.T) {
	path := writeTempConfig(t, "relays:\n  seeds:\n    - wss://relay.example\nstorage:\n  driver: postgres\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid storage.driver, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "relays:\n  seeds:\n    - wss://relay.example\n")

	t.Setenv("RELAYCORE_LOG_LEVEL", "debug")
	t.Setenv("RELAYCORE_FEED_MAX_NOTES", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug (env override)", cfg.Logging.Level)
	}
	if cfg.Feed.MaxNotes != 500 {
		t.Errorf("Feed.MaxNotes = %d, want 500 (env override)", cfg.Feed.MaxNotes)
	}
}

func TestApplyEnvOverridesRejectsBadInt(t *testing.T) {
	path := writeTempConfig(t, "relays:\n  seeds:\n    - wss://relay.example\n")
	t.Setenv("RELAYCORE_FEED_MAX_NOTES", "not-a-number")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-integer RELAYCORE_FEED_MAX_NOTES, got nil")
	}
}
