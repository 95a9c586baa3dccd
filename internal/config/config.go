// Package config loads the monitor's runtime configuration from the
// environment: a short TTL cache in front of a cheap re-parse, with a
// package-level override seam for tests.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config holds every knob the monitor's subsystems need. Durations are
// stored in milliseconds, matching the API's own vocabulary ("windowMs",
// "bufferMs", "cooldownMs", ...).
type Config struct {
	LogLevel  string
	BaseDir   string
	ServerKey string

	LocalHost string
	LocalPort int
	AuthToken string

	TmuxSocket string

	TickIntervalMs  int
	PaneConcurrency int

	SendLimiterWindowMs int64
	SendLimiterMax      int
	RawLimiterWindowMs  int64
	RawLimiterMax       int

	SendIdempotencyTTLMs   int64
	LaunchIdempotencyTTLMs int64
	LaunchIdempotencyMax   int

	SummaryBufferMs      int64
	SummaryMaxEvents     int
	SummaryMaxPerBinding int
	SummaryMaxWaiters    int
	SummaryDefaultWaitMs int64
	SummarySequenceSkew  int64

	PushCooldownMs    int64
	PushRetryDelaysMs []int64
	PushWarnThreshold int

	FingerprintIntervalMs int64
	ViewedRecentlyTTLMs   int64
	InactiveThresholdMs   int64
	RunningThresholdMs    int64

	ScreenDeltaCacheLimit int

	MaxLogBytes     int64
	RetainRotations int

	ReadOnly bool
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

// LoadConfig reads the environment unconditionally and refreshes the cache.
func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

// GetConfig returns the cached config, reloading from the environment once
// the cache entry is older than cacheTTL.
func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	level := os.Getenv("VDE_MONITOR_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	baseDir := os.Getenv("VDE_MONITOR_BASE_DIR")
	if baseDir == "" {
		baseDir = defaultBaseDir()
	}

	serverKey := os.Getenv("VDE_MONITOR_SERVER_KEY")
	if serverKey == "" {
		serverKey = "default"
	}

	localHost := os.Getenv("VDE_MONITOR_LOCAL_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	localPort := atoiOrDefault(os.Getenv("VDE_MONITOR_LOCAL_PORT"), 4621)
	authToken := os.Getenv("VDE_MONITOR_AUTH_TOKEN")

	tmuxSocket := os.Getenv("VDE_MONITOR_TMUX_SOCKET")

	tickIntervalMs := atoiOrDefault(os.Getenv("VDE_MONITOR_TICK_INTERVAL_MS"), 2000)
	paneConcurrency := atoiOrDefault(os.Getenv("VDE_MONITOR_PANE_CONCURRENCY"), 8)

	return Config{
		LogLevel:  level,
		BaseDir:   baseDir,
		ServerKey: serverKey,

		LocalHost: localHost,
		LocalPort: localPort,
		AuthToken: authToken,

		TmuxSocket: tmuxSocket,

		TickIntervalMs:  tickIntervalMs,
		PaneConcurrency: paneConcurrency,

		SendLimiterWindowMs: int64(atoiOrDefault(os.Getenv("VDE_MONITOR_SEND_LIMITER_WINDOW_MS"), 1000)),
		SendLimiterMax:      atoiOrDefault(os.Getenv("VDE_MONITOR_SEND_LIMITER_MAX"), 10),
		RawLimiterWindowMs:  int64(atoiOrDefault(os.Getenv("VDE_MONITOR_RAW_LIMITER_WINDOW_MS"), 1000)),
		RawLimiterMax:       atoiOrDefault(os.Getenv("VDE_MONITOR_RAW_LIMITER_MAX"), 5),

		SendIdempotencyTTLMs:   int64(atoiOrDefault(os.Getenv("VDE_MONITOR_SEND_IDEMPOTENCY_TTL_MS"), 30_000)),
		LaunchIdempotencyTTLMs: int64(atoiOrDefault(os.Getenv("VDE_MONITOR_LAUNCH_IDEMPOTENCY_TTL_MS"), 60_000)),
		LaunchIdempotencyMax:   atoiOrDefault(os.Getenv("VDE_MONITOR_LAUNCH_IDEMPOTENCY_MAX"), 500),

		SummaryBufferMs:      int64(atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_BUFFER_MS"), 30_000)),
		SummaryMaxEvents:     atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_MAX_EVENTS"), 2000),
		SummaryMaxPerBinding: atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_MAX_PER_BINDING"), 200),
		SummaryMaxWaiters:    atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_MAX_WAITERS"), 200),
		SummaryDefaultWaitMs: int64(atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_DEFAULT_WAIT_MS"), 5_000)),
		SummarySequenceSkew:  int64(atoiOrDefault(os.Getenv("VDE_MONITOR_SUMMARY_SEQUENCE_SKEW"), 2000)),

		PushCooldownMs:    int64(atoiOrDefault(os.Getenv("VDE_MONITOR_PUSH_COOLDOWN_MS"), 30_000)),
		PushRetryDelaysMs: []int64{500, 1500},
		PushWarnThreshold: atoiOrDefault(os.Getenv("VDE_MONITOR_PUSH_WARN_THRESHOLD"), 3),

		FingerprintIntervalMs: int64(atoiOrDefault(os.Getenv("VDE_MONITOR_FINGERPRINT_INTERVAL_MS"), 5_000)),
		ViewedRecentlyTTLMs:   int64(atoiOrDefault(os.Getenv("VDE_MONITOR_VIEWED_RECENTLY_TTL_MS"), 20_000)),
		InactiveThresholdMs:   int64(atoiOrDefault(os.Getenv("VDE_MONITOR_INACTIVE_THRESHOLD_MS"), 10_000)),
		RunningThresholdMs:    int64(atoiOrDefault(os.Getenv("VDE_MONITOR_RUNNING_THRESHOLD_MS"), 10_000)),

		ScreenDeltaCacheLimit: atoiOrDefault(os.Getenv("VDE_MONITOR_SCREEN_DELTA_CACHE_LIMIT"), 10),

		MaxLogBytes:     int64(atoiOrDefault(os.Getenv("VDE_MONITOR_MAX_LOG_BYTES"), 10*1024*1024)),
		RetainRotations: atoiOrDefault(os.Getenv("VDE_MONITOR_RETAIN_ROTATIONS"), 5),

		ReadOnly: os.Getenv("VDE_MONITOR_READ_ONLY") == "1",
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean(".vde-monitor")
	}
	return filepath.Join(home, ".vde-monitor")
}

func atoiOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	neg := false
	i := 0
	if v[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(v) {
		return fallback
	}
	n := 0
	for ; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if neg {
		n = -n
	}
	return n
}
