package dispatch

import (
	"context"
	"strconv"
	"time"
)

// SendTextExecutor layers (paneId, requestId) idempotency over the
// dispatcher for send-text commands.
type SendTextExecutor struct {
	dispatcher *Dispatcher
	cache      *idemCache[CommandResponse]
}

// NewSendTextExecutor builds the executor; ttl bounds how long a settled
// successful response is replayable.
func NewSendTextExecutor(dispatcher *Dispatcher, ttl time.Duration) *SendTextExecutor {
	return &SendTextExecutor{
		dispatcher: dispatcher,
		cache:      newIdemCache[CommandResponse](ttl, 0),
	}
}

// Execute sends text to a pane. Requests without a requestId dispatch
// directly; requests with one observe the idempotency contract.
func (e *SendTextExecutor) Execute(ctx context.Context, limiterKey, paneID, text string, enter bool, requestID string) CommandResponse {
	payload := Payload{Type: TypeSendText, PaneID: paneID, Text: text, Enter: enter}
	if requestID == "" {
		return e.dispatcher.ExecuteCommand(ctx, limiterKey, payload)
	}

	key := paneID + "\x1f" + requestID
	fingerprint := Fingerprint(paneID, text, strconv.FormatBool(enter))
	result, outcome := e.cache.Do(key, fingerprint, func() (CommandResponse, bool) {
		res := e.dispatcher.ExecuteCommand(ctx, limiterKey, payload)
		return res, res.OK
	})
	if outcome == OutcomeMismatch {
		return failure(CodeInvalidPayload, "requestId payload mismatch")
	}
	return result
}
