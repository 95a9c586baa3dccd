package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const configTOMLFileName = "config.toml"

// GlobalDefaults picks the agent preselected in the launch dialog.
type GlobalDefaults struct {
	LaunchAgent string `json:"launch_agent" toml:"launch_agent"`
}

// ClientConfig is handed to dashboard clients verbatim with every
// /sessions response.
type ClientConfig struct {
	RefreshIntervalMs int `json:"refresh_interval_ms" toml:"refresh_interval_ms"`
	ScreenLines       int `json:"screen_lines" toml:"screen_lines"`
}

// GlobalConfig is the user-editable TOML document in the config directory.
type GlobalConfig struct {
	LocalPort int            `json:"local_port" toml:"local_port"`
	Defaults  GlobalDefaults `json:"defaults" toml:"defaults"`
	Client    ClientConfig   `json:"client" toml:"client"`
}

// ConfigStore reads and writes the config document.
type ConfigStore struct {
	dir string
}

// NewConfigStore builds a store rooted at dir.
func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

// LoadOrInit reads the config, writing a normalized default document on
// first use.
func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

// Save writes cfg after normalization.
func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = 4621
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Defaults.LaunchAgent)) {
	case "codex", "claude":
		cfg.Defaults.LaunchAgent = strings.ToLower(strings.TrimSpace(cfg.Defaults.LaunchAgent))
	default:
		cfg.Defaults.LaunchAgent = "codex"
	}
	if cfg.Client.RefreshIntervalMs <= 0 {
		cfg.Client.RefreshIntervalMs = 2000
	}
	if cfg.Client.ScreenLines <= 0 {
		cfg.Client.ScreenLines = 200
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
