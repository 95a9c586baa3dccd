package paneprocessor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// HookEvent is one JSON line appended by an agent plugin to the shared
// hook-event file.
type HookEvent struct {
	Event     string `json:"event"`
	PaneID    string `json:"paneId"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	AtMs      int64  `json:"atMs,omitempty"`
}

// Hook event names the monitor understands.
const (
	HookPermissionRequest = "permission_request"
	HookStop              = "stop"
	HookIdle              = "idle"
	HookUserPromptSubmit  = "user_prompt_submit"
)

// HandleHookLine applies one hook-event JSONL line to the pane's runtime
// state. Unparseable lines and lines without a paneId are ignored; an event
// of unknown type still updates the pane's last-event time, message, and
// session id but leaves its hook state unchanged.
func (p *Processor) HandleHookLine(line []byte) {
	var ev HookEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}
	if strings.TrimSpace(ev.PaneID) == "" {
		return
	}

	at := p.now()
	if ev.AtMs > 0 {
		at = time.UnixMilli(ev.AtMs)
	}

	p.runtime.Update(ev.PaneID, func(st *model.PaneRuntimeState) {
		st.LastEventAt = &at
		if ev.Message != "" {
			st.LastMessage = ev.Message
		}
		if ev.SessionID != "" {
			st.AgentSessionID = ev.SessionID
		}

		switch strings.ToLower(ev.Event) {
		case HookPermissionRequest:
			st.HookState = &model.HookState{State: model.StateWaitingPermission, Reason: ev.Event, At: at}
		case HookStop, HookIdle:
			st.HookState = &model.HookState{State: model.StateWaitingInput, Reason: ev.Event, At: at}
		case HookUserPromptSubmit:
			st.HookState = nil
			if st.LastInputAt == nil || at.After(*st.LastInputAt) {
				st.LastInputAt = &at
			}
		}
	})
	if p.logger != nil {
		p.logger.Debug("hook event applied", "pane_id", ev.PaneID, "event", ev.Event)
	}
}
