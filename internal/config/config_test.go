package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("VDE_MONITOR_LOG_LEVEL", "")
	t.Setenv("VDE_MONITOR_LOCAL_HOST", "")
	t.Setenv("VDE_MONITOR_LOCAL_PORT", "")
	t.Setenv("VDE_MONITOR_TICK_INTERVAL_MS", "")
	t.Setenv("VDE_MONITOR_PANE_CONCURRENCY", "")

	cfg := LoadConfig()
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected LogLevel: %s", cfg.LogLevel)
	}
	if cfg.LocalHost != "127.0.0.1" {
		t.Fatalf("unexpected LocalHost: %s", cfg.LocalHost)
	}
	if cfg.LocalPort != 4621 {
		t.Fatalf("unexpected LocalPort: %d", cfg.LocalPort)
	}
	if cfg.TickIntervalMs != 2000 {
		t.Fatalf("unexpected TickIntervalMs: %d", cfg.TickIntervalMs)
	}
	if cfg.PaneConcurrency != 8 {
		t.Fatalf("unexpected PaneConcurrency: %d", cfg.PaneConcurrency)
	}
	if cfg.ScreenDeltaCacheLimit != 10 {
		t.Fatalf("unexpected ScreenDeltaCacheLimit: %d", cfg.ScreenDeltaCacheLimit)
	}
	if cfg.SummaryBufferMs != 30_000 {
		t.Fatalf("unexpected SummaryBufferMs: %d", cfg.SummaryBufferMs)
	}
	if cfg.PushWarnThreshold != 3 {
		t.Fatalf("unexpected PushWarnThreshold: %d", cfg.PushWarnThreshold)
	}
	if len(cfg.PushRetryDelaysMs) != 2 || cfg.PushRetryDelaysMs[0] != 500 || cfg.PushRetryDelaysMs[1] != 1500 {
		t.Fatalf("unexpected PushRetryDelaysMs: %v", cfg.PushRetryDelaysMs)
	}
	if cfg.ReadOnly {
		t.Fatal("read-only should default to disabled")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("VDE_MONITOR_LOCAL_HOST", "0.0.0.0")
	t.Setenv("VDE_MONITOR_LOCAL_PORT", "4700")
	t.Setenv("VDE_MONITOR_PANE_CONCURRENCY", "4")
	t.Setenv("VDE_MONITOR_READ_ONLY", "1")
	t.Setenv("VDE_MONITOR_SERVER_KEY", "custom-key")

	cfg := LoadConfig()
	if cfg.LocalHost != "0.0.0.0" {
		t.Fatalf("unexpected LocalHost: %s", cfg.LocalHost)
	}
	if cfg.LocalPort != 4700 {
		t.Fatalf("unexpected LocalPort: %d", cfg.LocalPort)
	}
	if cfg.PaneConcurrency != 4 {
		t.Fatalf("unexpected PaneConcurrency: %d", cfg.PaneConcurrency)
	}
	if !cfg.ReadOnly {
		t.Fatal("read-only should be enabled when VDE_MONITOR_READ_ONLY=1")
	}
	if cfg.ServerKey != "custom-key" {
		t.Fatalf("unexpected ServerKey: %s", cfg.ServerKey)
	}
}

func TestGetConfig_UsesCacheWithinTTL(t *testing.T) {
	resetConfigCacheForTest()
	t.Setenv("VDE_MONITOR_LOCAL_HOST", "127.0.0.1")
	_ = LoadConfig()

	t.Setenv("VDE_MONITOR_LOCAL_HOST", "0.0.0.0")
	got := GetConfig()
	if got == nil {
		t.Fatal("GetConfig should not return nil")
	}
	if got.LocalHost != "127.0.0.1" {
		t.Fatalf("expected cached host 127.0.0.1, got %s", got.LocalHost)
	}
}

func TestGetConfig_RefreshesAfterTTL(t *testing.T) {
	resetConfigCacheForTest()

	oldNow := nowFunc
	oldTTL := cacheTTL
	defer func() {
		nowFunc = oldNow
		cacheTTL = oldTTL
		resetConfigCacheForTest()
	}()

	base := time.Date(2026, time.February, 19, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }
	cacheTTL = 10 * time.Second

	t.Setenv("VDE_MONITOR_LOCAL_HOST", "127.0.0.1")
	_ = LoadConfig()

	base = base.Add(11 * time.Second)
	t.Setenv("VDE_MONITOR_LOCAL_HOST", "0.0.0.0")

	got := GetConfig()
	if got == nil {
		t.Fatal("GetConfig should not return nil")
	}
	if got.LocalHost != "0.0.0.0" {
		t.Fatalf("expected refreshed host 0.0.0.0, got %s", got.LocalHost)
	}
}

func resetConfigCacheForTest() {
	cacheMu.Lock()
	cachedCfg = Config{}
	cachedAt = time.Time{}
	cacheValid = false
	cacheMu.Unlock()
}
