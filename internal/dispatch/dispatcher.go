// Package dispatch implements the command layer over the multiplexer: the
// rate-limited dispatcher and the request-id idempotency executors for
// send-text and launch-agent.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/ratelimit"
)

// Public error codes surfaced through the command response envelope.
const (
	CodeRateLimit       = "RATE_LIMIT"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeInvalidPane     = "INVALID_PANE"
	CodeReadOnly        = "READ_ONLY"
	CodeTmuxUnavailable = "TMUX_UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Payload types the dispatcher understands.
const (
	TypeSendText   = "send.text"
	TypeSendKeys   = "send.keys"
	TypeSendRaw    = "send.raw"
	TypeFocus      = "focus"
	TypeKillPane   = "kill.pane"
	TypeKillWindow = "kill.window"
)

// CommandError is the structured error carried in a failed response.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandResponse is the dispatcher's uniform result shape.
type CommandResponse struct {
	OK    bool          `json:"ok"`
	Error *CommandError `json:"error,omitempty"`
}

// Payload describes one multiplexer input action.
type Payload struct {
	Type   string
	PaneID string
	Text   string
	Enter  bool
	Keys   []string
	Items  []string
}

// InputRecorder lets the dispatcher tell the monitor a pane just received
// user-originated input.
type InputRecorder interface {
	RecordInput(paneID string, at time.Time)
}

// Dispatcher wraps multiplexer input actions with limiters, the read-only
// check, and error normalization.
type Dispatcher struct {
	backend     muxbackend.Backend
	sendLimiter *ratelimit.Limiter
	rawLimiter  *ratelimit.Limiter
	recorder    InputRecorder
	readOnly    bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher wires a Dispatcher; recorder may be nil.
func NewDispatcher(backend muxbackend.Backend, sendLimiter, rawLimiter *ratelimit.Limiter, recorder InputRecorder, readOnly bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		backend:     backend,
		sendLimiter: sendLimiter,
		rawLimiter:  rawLimiter,
		recorder:    recorder,
		readOnly:    readOnly,
		logger:      logger,
		now:         time.Now,
	}
}

func failure(code, message string) CommandResponse {
	return CommandResponse{Error: &CommandError{Code: code, Message: message}}
}

// ExecuteCommand runs one input action under the limiter keyed by
// limiterKey. Raw sends consume the raw limiter; everything else consumes
// the send limiter.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, limiterKey string, payload Payload) CommandResponse {
	if d.readOnly {
		return failure(CodeReadOnly, "server is in read-only mode")
	}

	limiter := d.sendLimiter
	if payload.Type == TypeSendRaw {
		limiter = d.rawLimiter
	}
	if limiter != nil && !limiter.Allow(limiterKey) {
		return failure(CodeRateLimit, "rate limit exceeded")
	}

	var err error
	switch payload.Type {
	case TypeSendText:
		err = d.backend.SendText(ctx, payload.PaneID, payload.Text, payload.Enter)
	case TypeSendKeys:
		err = d.backend.SendKeys(ctx, payload.PaneID, payload.Keys)
	case TypeSendRaw:
		err = d.backend.SendRaw(ctx, payload.PaneID, payload.Items)
	case TypeFocus:
		err = d.backend.FocusPane(ctx, payload.PaneID)
	case TypeKillPane:
		err = d.backend.KillPane(ctx, payload.PaneID)
	case TypeKillWindow:
		err = d.backend.KillWindow(ctx, payload.PaneID)
	default:
		return failure(CodeInvalidPayload, "unknown command type: "+payload.Type)
	}
	if err != nil {
		return d.normalizeError(payload, err)
	}

	if d.recorder != nil && isInput(payload.Type) {
		d.recorder.RecordInput(payload.PaneID, d.now())
	}
	return CommandResponse{OK: true}
}

func isInput(payloadType string) bool {
	switch payloadType {
	case TypeSendText, TypeSendKeys, TypeSendRaw:
		return true
	}
	return false
}

func (d *Dispatcher) normalizeError(payload Payload, err error) CommandResponse {
	if d.logger != nil {
		d.logger.Warn("command failed", "type", payload.Type, "pane_id", payload.PaneID, "error", err)
	}
	if errors.Is(err, muxbackend.ErrPaneNotFound) {
		return failure(CodeInvalidPane, "pane not found: "+payload.PaneID)
	}
	return failure(CodeTmuxUnavailable, err.Error())
}
