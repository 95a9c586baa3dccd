// Package logging builds the structured slog loggers every long-lived
// component carries. Output is JSON on stderr; each component tags its
// lines with a "component" attribute.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	h := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	lg := slog.New(h)
	if strings.TrimSpace(opts.Component) != "" {
		lg = lg.With("component", strings.TrimSpace(opts.Component))
	}
	return lg
}

// ForComponent derives a component-tagged child from an existing logger,
// avoiding a second handler allocation when many components share a level.
func ForComponent(parent *slog.Logger, component string) *slog.Logger {
	if parent == nil {
		return NewLogger(Options{Component: component})
	}
	component = strings.TrimSpace(component)
	if component == "" {
		return parent
	}
	return parent.With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
