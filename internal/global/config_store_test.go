package global

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrInitWritesNormalizedDefaults(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LocalPort != 4621 || cfg.Defaults.LaunchAgent != "codex" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Client.RefreshIntervalMs != 2000 || cfg.Client.ScreenLines != 200 {
		t.Fatalf("unexpected client defaults: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	cfg := GlobalConfig{
		LocalPort: 5000,
		Defaults:  GlobalDefaults{LaunchAgent: "Claude"},
		Client:    ClientConfig{RefreshIntervalMs: 1000, ScreenLines: 120},
	}
	if err := store.Save(cfg); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadOrInit()
	if err != nil {
		t.Fatal(err)
	}
	if got.LocalPort != 5000 || got.Defaults.LaunchAgent != "claude" {
		t.Fatalf("unexpected reload: %+v", got)
	}
	if got.Client.RefreshIntervalMs != 1000 || got.Client.ScreenLines != 120 {
		t.Fatalf("unexpected client config: %+v", got)
	}
}

func TestDefaultConfigDirOverride(t *testing.T) {
	t.Setenv("VDE_MONITOR_CONFIG_DIR", "/tmp/custom-config")
	dir, err := DefaultConfigDir()
	if err != nil || dir != "/tmp/custom-config" {
		t.Fatalf("unexpected dir: %q err=%v", dir, err)
	}
}
