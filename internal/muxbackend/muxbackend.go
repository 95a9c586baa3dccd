// Package muxbackend defines the multiplexer capability the monitor
// depends on and a tmux-backed implementation over internal/tmux.Adapter.
package muxbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/tmux"
)

// ErrPaneNotFound is returned when a target pane no longer exists.
var ErrPaneNotFound = errors.New("pane not found")

// LaunchRequest carries everything LaunchAgentInSession needs to start a
// fresh agent pane.
type LaunchRequest struct {
	SessionName string
	Command     string
	Cwd         string
	WindowName  string
}

// CaptureResult is what CaptureText reports back about one screen capture.
type CaptureResult struct {
	Screen      string
	AlternateOn bool
	Truncated   bool
}

// Backend is the capability interface the monitor depends on; it is
// implemented once for real (tmux) and by fakes in package tests.
type Backend interface {
	ListPanes(ctx context.Context) ([]model.PaneMeta, error)
	ReadUserOption(ctx context.Context, paneID, key string) (string, error)
	SendText(ctx context.Context, paneID, text string, enter bool) error
	SendKeys(ctx context.Context, paneID string, keys []string) error
	SendRaw(ctx context.Context, paneID string, items []string) error
	FocusPane(ctx context.Context, paneID string) error
	KillPane(ctx context.Context, paneID string) error
	KillWindow(ctx context.Context, paneID string) error
	LaunchAgentInSession(ctx context.Context, req LaunchRequest) (string, error)
	CaptureText(ctx context.Context, paneID string, lines int) (CaptureResult, error)
	CapturePipe(ctx context.Context, paneID string) (string, error)
	AttachPipe(ctx context.Context, paneID, logPath string) error
}

// MonitorPipeOption is the multiplexer user-option our pipe tag lives under.
const MonitorPipeOption = "@monitor_pipe"

// TmuxBackend adapts *tmux.Adapter to the Backend interface.
type TmuxBackend struct {
	adapter *tmux.Adapter
	tag     string
}

// New builds a TmuxBackend. tag is the value this process writes into
// @monitor_pipe so PipeConflict can distinguish our pipe from someone
// else's.
func New(adapter *tmux.Adapter, tag string) *TmuxBackend {
	return &TmuxBackend{adapter: adapter, tag: tag}
}

func (b *TmuxBackend) ListPanes(ctx context.Context) ([]model.PaneMeta, error) {
	_ = ctx
	panes, err := b.adapter.ListPanesDetailed()
	if err != nil {
		return nil, err
	}
	out := make([]model.PaneMeta, 0, len(panes))
	for _, p := range panes {
		var activity, windowActivity *time.Time
		if p.PaneActivity > 0 {
			t := time.Unix(p.PaneActivity, 0).UTC()
			activity = &t
		}
		if p.WindowActivity > 0 {
			t := time.Unix(p.WindowActivity, 0).UTC()
			windowActivity = &t
		}
		out = append(out, model.PaneMeta{
			PaneID:           p.PaneID,
			SessionName:      p.SessionName,
			WindowIndex:      p.WindowIndex,
			PaneIndex:        p.PaneIndex,
			PaneActive:       p.PaneActive,
			CurrentCommand:   p.CurrentCommand,
			CurrentPath:      p.CurrentPath,
			PaneTty:          p.PaneTty,
			PaneTitle:        p.PaneTitle,
			PaneStartCommand: p.PaneStartCommand,
			PanePid:          p.PanePid,
			PaneDead:         p.PaneDead,
			AlternateOn:      p.AlternateOn,
			PanePipe:         p.PanePipe,
			PaneActivity:     activity,
			WindowActivity:   windowActivity,
		})
	}
	return out, nil
}

func (b *TmuxBackend) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	_ = ctx
	val, err := b.adapter.GetPaneOption(paneID, key)
	if err != nil {
		return "", nil //nolint: nilerr // tmux reports ENOENT-shaped errors for unset options; treat as empty.
	}
	return val, nil
}

func (b *TmuxBackend) SendText(ctx context.Context, paneID, text string, enter bool) error {
	_ = ctx
	if err := b.adapter.SendInput(paneID, text); err != nil {
		return err
	}
	if enter {
		return b.adapter.SendKeys(paneID, "Enter")
	}
	return nil
}

func (b *TmuxBackend) SendKeys(ctx context.Context, paneID string, keys []string) error {
	_ = ctx
	return b.adapter.SendKeys(paneID, keys...)
}

func (b *TmuxBackend) SendRaw(ctx context.Context, paneID string, items []string) error {
	_ = ctx
	for _, item := range items {
		if err := b.adapter.SendRaw(paneID, item); err != nil {
			return err
		}
	}
	return nil
}

func (b *TmuxBackend) FocusPane(ctx context.Context, paneID string) error {
	_ = ctx
	return b.adapter.SelectPane(paneID)
}

func (b *TmuxBackend) KillPane(ctx context.Context, paneID string) error {
	_ = ctx
	return b.adapter.KillPane(paneID)
}

func (b *TmuxBackend) KillWindow(ctx context.Context, paneID string) error {
	_ = ctx
	return b.adapter.KillWindow(paneID)
}

func (b *TmuxBackend) LaunchAgentInSession(ctx context.Context, req LaunchRequest) (string, error) {
	_ = ctx
	return b.adapter.LaunchAgentInSession(req.SessionName, req.Command, req.Cwd, req.WindowName)
}

func (b *TmuxBackend) CaptureText(ctx context.Context, paneID string, lines int) (CaptureResult, error) {
	_ = ctx
	var raw string
	var err error
	if lines > 0 {
		raw, err = b.adapter.CaptureHistory(paneID, lines)
	} else {
		raw, err = b.adapter.CapturePane(paneID)
	}
	if err != nil {
		return CaptureResult{}, err
	}
	truncated := false
	if lines > 0 {
		truncated = strings.Count(raw, "\n")+1 >= lines
	}
	return CaptureResult{Screen: raw, Truncated: truncated}, nil
}

func (b *TmuxBackend) CapturePipe(ctx context.Context, paneID string) (string, error) {
	_ = ctx
	return b.adapter.CapturePane(paneID)
}

// AttachPipe attaches our log pipe to paneID and tags the pane so a later
// tick recognizes the pipe as ours rather than a foreign one.
func (b *TmuxBackend) AttachPipe(ctx context.Context, paneID, logPath string) error {
	_ = ctx
	if strings.TrimSpace(logPath) == "" {
		return fmt.Errorf("log path is required to attach pipe for %s", paneID)
	}
	shellCmd := fmt.Sprintf("cat >> %s", shellQuote(logPath))
	if err := b.adapter.StartPipePane(paneID, shellCmd); err != nil {
		return err
	}
	return b.adapter.SetPaneOption(paneID, MonitorPipeOption, b.tag)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
