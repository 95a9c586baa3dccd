// Package tmux shells out to the tmux binary; the Adapter exposes exactly
// the pane operations the monitor's multiplexer backend needs.
package tmux

import (
	"fmt"
	"strconv"
	"strings"
)

type Adapter struct {
	exec       Exec
	tmuxSocket string
}

func NewAdapter(e Exec) *Adapter {
	return &Adapter{exec: e}
}

func NewAdapterWithSocket(e Exec, socket string) *Adapter {
	return &Adapter{exec: e, tmuxSocket: socket}
}

func (a *Adapter) SocketName() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.tmuxSocket)
}

func (a *Adapter) SelectPane(target string) error {
	return a.exec.Run("tmux", a.withSocket("select-pane", "-t", target)...)
}

// SendInput sends literal text (`send-keys -l`), so tmux never expands key
// names embedded in the payload.
func (a *Adapter) SendInput(target, text string) error {
	return a.exec.Run("tmux", a.withSocket("send-keys", "-l", "-t", target, text)...)
}

func (a *Adapter) CapturePane(target string) (string, error) {
	out, err := a.exec.Output("tmux", a.withSocket("capture-pane", "-p", "-e", "-N", "-t", target)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CaptureHistory captures the last `lines` rows including scrollback.
func (a *Adapter) CaptureHistory(target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 2000
	}
	start := fmt.Sprintf("-%d", lines)
	out, err := a.exec.Output("tmux", a.withSocket("capture-pane", "-p", "-e", "-N", "-S", start, "-E", "-", "-t", target)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// StartPipePane attaches shellCmd as the pane's output pipe; -O keeps any
// output already buffered flowing into the new pipe.
func (a *Adapter) StartPipePane(target, shellCmd string) error {
	return a.exec.Run("tmux", a.withSocket("pipe-pane", "-O", "-t", target, shellCmd)...)
}

// StopPipePane detaches whatever pipe is attached to target.
func (a *Adapter) StopPipePane(target string) error {
	return a.exec.Run("tmux", a.withSocket("pipe-pane", "-t", target)...)
}

func (a *Adapter) GetPaneOption(target, key string) (string, error) {
	out, err := a.exec.Output("tmux", a.withSocket("show-options", "-p", "-v", "-t", target, key)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (a *Adapter) SetPaneOption(target, key, value string) error {
	return a.exec.Run("tmux", a.withSocket("set-option", "-p", "-t", target, key, value)...)
}

// SendKeys sends one or more named tmux keys (e.g. "Enter", "C-c",
// "Escape") to target, distinct from SendInput's literal-text send.
func (a *Adapter) SendKeys(target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	return a.exec.Run("tmux", a.withSocket(args...)...)
}

// SendRaw sends literal bytes without tmux's key-name expansion, used for
// the send.raw command family.
func (a *Adapter) SendRaw(target, data string) error {
	return a.exec.Run("tmux", a.withSocket("send-keys", "-l", "-t", target, data)...)
}

// KillPane kills exactly one pane.
func (a *Adapter) KillPane(target string) error {
	return a.exec.Run("tmux", a.withSocket("kill-pane", "-t", target)...)
}

// KillWindow kills the whole window a pane target belongs to.
func (a *Adapter) KillWindow(target string) error {
	windowTarget := target
	if dot := strings.LastIndex(target, "."); dot > strings.LastIndex(target, ":") {
		windowTarget = target[:dot]
	}
	return a.exec.Run("tmux", a.withSocket("kill-window", "-t", windowTarget)...)
}

// LaunchAgentInSession creates a detached session named sessionName, runs
// launchCommand in it, and returns the new pane id. If cwd is non-empty the
// session starts in that directory.
func (a *Adapter) LaunchAgentInSession(sessionName, launchCommand, cwd, windowName string) (string, error) {
	args := []string{"new-session", "-d", "-P", "-F", "#{pane_id}", "-s", sessionName}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	if windowName != "" {
		args = append(args, "-n", windowName)
	}
	out, err := a.exec.Output("tmux", a.withSocket(args...)...)
	if err != nil {
		return "", err
	}
	paneID := strings.TrimSpace(string(out))
	if paneID == "" {
		return "", fmt.Errorf("tmux did not report a pane id for session %q", sessionName)
	}
	if launchCommand != "" {
		if err := a.SendInput(paneID, launchCommand); err != nil {
			return paneID, err
		}
		if err := a.SendKeys(paneID, "Enter"); err != nil {
			return paneID, err
		}
	}
	return paneID, nil
}

// PaneFields is one row of the tab-separated `list-panes` format this
// adapter uses to bulk-fetch everything the observation pipeline needs in a
// single tmux invocation per tick.
type PaneFields struct {
	PaneID           string
	SessionName      string
	WindowIndex      int
	PaneIndex        int
	PaneActive       bool
	CurrentCommand   string
	CurrentPath      string
	PaneTty          string
	PaneTitle        string
	PaneStartCommand string
	PanePid          int
	PaneDead         bool
	AlternateOn      bool
	PanePipe         bool
	PaneActivity     int64
	WindowActivity   int64
}

const listPanesFormat = "#{pane_id}\t#{session_name}\t#{window_index}\t#{pane_index}\t#{pane_active}\t" +
	"#{pane_current_command}\t#{pane_current_path}\t#{pane_tty}\t#{pane_title}\t#{pane_start_command}\t" +
	"#{pane_pid}\t#{pane_dead}\t#{alternate_on}\t#{pane_pipe}\t#{pane_activity}\t#{window_activity}"

// ListPanesDetailed lists every pane across every session on this tmux
// server with the full field set the Pane Processor needs, in one call.
func (a *Adapter) ListPanesDetailed() ([]PaneFields, error) {
	out, err := a.exec.Output("tmux", a.withSocket("list-panes", "-a", "-F", listPanesFormat)...)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	panes := make([]PaneFields, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		for len(fields) < 16 {
			fields = append(fields, "")
		}
		panes = append(panes, PaneFields{
			PaneID:           fields[0],
			SessionName:      fields[1],
			WindowIndex:      atoiSafe(fields[2]),
			PaneIndex:        atoiSafe(fields[3]),
			PaneActive:       fields[4] == "1",
			CurrentCommand:   fields[5],
			CurrentPath:      fields[6],
			PaneTty:          fields[7],
			PaneTitle:        fields[8],
			PaneStartCommand: fields[9],
			PanePid:          atoiSafe(fields[10]),
			PaneDead:         fields[11] == "1",
			AlternateOn:      fields[12] == "1",
			PanePipe:         fields[13] == "1",
			PaneActivity:     int64(atoiSafe(fields[14])),
			WindowActivity:   int64(atoiSafe(fields[15])),
		})
	}
	return panes, nil
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func (a *Adapter) withSocket(args ...string) []string {
	if a.tmuxSocket == "" {
		return args
	}
	return append([]string{"-L", a.tmuxSocket}, args...)
}
