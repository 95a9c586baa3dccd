// Package model holds the data types shared across the monitor: the pane
// snapshot the multiplexer reports, the authoritative session detail the
// registry serves, and the timeline/summary records derived from them.
package model

import "time"

// Agent identifies which coding agent (if any) owns a pane.
type Agent string

const (
	AgentCodex   Agent = "codex"
	AgentClaude  Agent = "claude"
	AgentUnknown Agent = "unknown"
)

// State is a pane's classified activity state.
type State string

const (
	StateRunning           State = "RUNNING"
	StateWaitingInput      State = "WAITING_INPUT"
	StateWaitingPermission State = "WAITING_PERMISSION"
	StateShell             State = "SHELL"
	StateUnknown           State = "UNKNOWN"
)

// TimelineSource records what caused a timeline item to be appended.
type TimelineSource string

const (
	SourcePoll    TimelineSource = "poll"
	SourceHook    TimelineSource = "hook"
	SourceRestore TimelineSource = "restore"
)

// PaneMeta is what the multiplexer backend reports about one pane.
type PaneMeta struct {
	PaneID           string     `json:"paneId"`
	SessionName      string     `json:"sessionName"`
	WindowIndex      int        `json:"windowIndex"`
	PaneIndex        int        `json:"paneIndex"`
	PaneActive       bool       `json:"paneActive"`
	CurrentCommand   string     `json:"currentCommand,omitempty"`
	CurrentPath      string     `json:"currentPath,omitempty"`
	PaneTty          string     `json:"paneTty,omitempty"`
	PaneTitle        string     `json:"paneTitle,omitempty"`
	PaneStartCommand string     `json:"paneStartCommand,omitempty"`
	PanePid          int        `json:"panePid,omitempty"`
	PaneDead         bool       `json:"paneDead"`
	AlternateOn      bool       `json:"alternateOn"`
	PanePipe         bool       `json:"panePipe"`
	PipeTagValue     string     `json:"pipeTagValue,omitempty"`
	PaneActivity     *time.Time `json:"paneActivity,omitempty"`
	WindowActivity   *time.Time `json:"windowActivity,omitempty"`
}

// SessionDetail is the authoritative per-pane snapshot served to clients.
type SessionDetail struct {
	PaneMeta

	Title          string     `json:"title"`
	CustomTitle    string     `json:"customTitle,omitempty"`
	RepoRoot       string     `json:"repoRoot,omitempty"`
	Branch         string     `json:"branch,omitempty"`
	WorktreePath   string     `json:"worktreePath,omitempty"`
	IsWorktree     bool       `json:"isWorktree"`
	Agent          Agent      `json:"agent"`
	State          State      `json:"state"`
	StateReason    string     `json:"stateReason"`
	LastMessage    string     `json:"lastMessage,omitempty"`
	LastOutputAt   *time.Time `json:"lastOutputAt,omitempty"`
	LastEventAt    *time.Time `json:"lastEventAt,omitempty"`
	LastInputAt    *time.Time `json:"lastInputAt,omitempty"`
	PipeAttached   bool       `json:"pipeAttached"`
	PipeConflict   bool       `json:"pipeConflict"`
	AgentSessionID string     `json:"agentSessionId,omitempty"`
}

// Key returns the registry identity for this detail.
func (d SessionDetail) Key() string { return d.PaneID }

// StateChanged reports whether (state, reason) differs from other.
func (d SessionDetail) StateChanged(other SessionDetail) bool {
	return d.State != other.State || d.StateReason != other.StateReason
}

// TimelineItem is one (state, reason) interval for a pane.
type TimelineItem struct {
	ID        string         `json:"id"`
	PaneID    string         `json:"paneId"`
	State     State          `json:"state"`
	Reason    string         `json:"reason"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
	Source    TimelineSource `json:"source"`
}

// Open reports whether the item is still the current (unterminated) one.
func (t TimelineItem) Open() bool { return t.EndedAt == nil }

// PaneRuntimeState is the mutable, non-exposed per-pane observation state.
type PaneRuntimeState struct {
	HookState                   *HookState
	AgentSessionID              string
	LastOutputAt                *time.Time
	LastEventAt                 *time.Time
	LastMessage                 string
	LastInputAt                 *time.Time
	LastFingerprint             string
	LastFingerprintCaptureAtMs  int64
	ExternalInputCursorBytes    int64
	ExternalInputSignature      string
	ExternalInputLastDetectedAt *time.Time
}

// HookState is a state/reason pair recorded from an agent hook event.
type HookState struct {
	State  State
	Reason string
	At     time.Time
}

// SummaryLocator is the 5-tuple identifying a summary's target transition.
type SummaryLocator struct {
	Source    string `json:"source"`
	RunID     string `json:"runId"`
	PaneID    string `json:"paneId"`
	EventType string `json:"eventType"`
	Sequence  int64  `json:"sequence"`
}

// BindingKey returns the 4-tuple prefix waiters subscribe on.
func (l SummaryLocator) BindingKey() string {
	return l.Source + "\x1f" + l.RunID + "\x1f" + l.PaneID + "\x1f" + l.EventType
}

// SummaryEvent is a publisher-submitted event buffered for correlation with
// an observed state transition.
type SummaryEvent struct {
	EventID       string         `json:"eventId"`
	Locator       SummaryLocator `json:"locator"`
	SourceEventAt time.Time      `json:"sourceEventAt"`
	Summary       map[string]any `json:"summary,omitempty"`
	ExpiresAtMs   int64          `json:"expiresAtMs"`
}

// SessionTransitionEvent is emitted by the Pane Update Service whenever a
// pane's (state, reason) changes.
type SessionTransitionEvent struct {
	PaneID   string
	Previous *SessionDetail
	Next     SessionDetail
	At       time.Time
	Source   TimelineSource
}
