// Package global owns the user-level configuration directory and the TOML
// config document shared with dashboard clients.
package global

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns $VDE_MONITOR_CONFIG_DIR when set, else
// ~/.config/vde-monitor.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("VDE_MONITOR_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vde-monitor"), nil
}
