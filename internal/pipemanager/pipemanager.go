// Package pipemanager computes pane log paths, ensures their directories,
// rotates oversized logs, and keeps the multiplexer output pipe attached to
// the per-pane log file.
package pipemanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PipeAttacher is the one multiplexer capability this package needs.
type PipeAttacher interface {
	AttachPipe(ctx context.Context, paneID, logPath string) error
}

// Status reports the pipe/log outcome for one pane observation.
type Status struct {
	LogPath  string
	Attached bool
	Conflict bool
}

// Manager owns the log directory layout: logs/<serverKey>/panes/<pane>.log
// and events/<serverKey>/claude.jsonl under baseDir.
type Manager struct {
	baseDir   string
	serverKey string
	tag       string
	maxBytes  int64
	retain    int
	attacher  PipeAttacher
	logger    *slog.Logger
}

// New builds a Manager. tag is the @monitor_pipe value identifying pipes
// attached by this process.
func New(baseDir, serverKey, tag string, maxBytes int64, retain int, attacher PipeAttacher, logger *slog.Logger) *Manager {
	return &Manager{
		baseDir:   baseDir,
		serverKey: serverKey,
		tag:       tag,
		maxBytes:  maxBytes,
		retain:    retain,
		attacher:  attacher,
		logger:    logger,
	}
}

// Tag returns the pipe tag value this manager attaches with.
func (m *Manager) Tag() string { return m.tag }

// PaneLogPath returns the log path for paneID. tmux pane ids are "%N"; the
// leading "%" is mapped to "p" so the file name stays shell-friendly.
func (m *Manager) PaneLogPath(paneID string) string {
	return filepath.Join(m.baseDir, "logs", m.serverKey, "panes", encodePaneID(paneID)+".log")
}

// EventLogPath returns the shared hook-event JSONL path.
func (m *Manager) EventLogPath() string {
	return filepath.Join(m.baseDir, "events", m.serverKey, "claude.jsonl")
}

// EnsurePipe prepares the pane's log file and attaches the output pipe when
// needed. paneHasPipe and pipeTag describe what the multiplexer currently
// reports; attachOnServe gates the actual attach call.
func (m *Manager) EnsurePipe(ctx context.Context, paneID string, paneHasPipe bool, pipeTag string, attachOnServe bool) (Status, error) {
	logPath := m.PaneLogPath(paneID)
	if err := m.ensureLogFile(logPath); err != nil {
		return Status{LogPath: logPath}, err
	}

	// A pipe we did not attach belongs to someone else; never steal it.
	if paneHasPipe && pipeTag != m.tag {
		return Status{LogPath: logPath, Conflict: true}, nil
	}
	if paneHasPipe && pipeTag == m.tag {
		return Status{LogPath: logPath, Attached: true}, nil
	}
	if !attachOnServe {
		return Status{LogPath: logPath}, nil
	}

	if err := m.attacher.AttachPipe(ctx, paneID, logPath); err != nil {
		return Status{LogPath: logPath}, fmt.Errorf("attach pipe for %s: %w", paneID, err)
	}
	return Status{LogPath: logPath, Attached: true}, nil
}

// RotateIfNeeded renames an oversized pane log to .1 (shifting older
// rotations up to the retain limit) and re-attaches the pipe so the writer
// starts a fresh file. Returns whether a rotation happened.
func (m *Manager) RotateIfNeeded(ctx context.Context, paneID string) (bool, error) {
	logPath := m.PaneLogPath(paneID)
	info, err := os.Stat(logPath)
	if err != nil {
		return false, nil
	}
	if m.maxBytes <= 0 || info.Size() <= m.maxBytes {
		return false, nil
	}

	// Shift pane.log.(n-1) -> pane.log.n, oldest dropped.
	for i := m.retain - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := fmt.Sprintf("%s.%d", logPath, i+1)
		if err := os.Rename(src, dst); err != nil {
			return false, err
		}
	}
	if err := os.Rename(logPath, logPath+".1"); err != nil {
		return false, err
	}
	if err := m.ensureLogFile(logPath); err != nil {
		return true, err
	}
	if m.attacher != nil {
		if err := m.attacher.AttachPipe(ctx, paneID, logPath); err != nil {
			return true, fmt.Errorf("re-attach pipe after rotation for %s: %w", paneID, err)
		}
	}
	if m.logger != nil {
		m.logger.Info("rotated pane log", "pane_id", paneID, "bytes", info.Size())
	}
	return true, nil
}

func (m *Manager) ensureLogFile(logPath string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func encodePaneID(paneID string) string {
	paneID = strings.ReplaceAll(paneID, "%", "p")
	return strings.ReplaceAll(paneID, string(os.PathSeparator), "_")
}
