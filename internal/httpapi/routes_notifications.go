package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/push"
	"github.com/yuki-yano/vde-monitor/internal/summarybus"
)

const summaryEventSchemaVersion = 1

func (s *Server) registerNotificationRoutes() {
	s.mux.HandleFunc("GET /api/notifications/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/notifications/settings", s.handlePutSettings)
	s.mux.HandleFunc("POST /api/notifications/subscriptions", s.handleSubscribe)
	s.mux.HandleFunc("POST /api/notifications/subscriptions/revoke", s.handleRevoke)
	s.mux.HandleFunc("DELETE /api/notifications/subscriptions/{subscriptionId}", s.handleDeleteSubscription)
	s.mux.HandleFunc("POST /api/notifications/summary-events", s.handlePublishSummary)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings := push.DefaultSettings()
	if s.deps.Push != nil {
		settings = s.deps.Push.Settings()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": map[string]any{
			"pushEnabled":       s.deps.PushEnabled,
			"vapidPublicKey":    s.deps.VAPIDPublicKey,
			"enabled":           settings.Enabled,
			"enabledEventTypes": settings.EnabledEventTypes,
		},
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req push.Settings
	if !decodeBody(w, r, &req) {
		return
	}
	if s.deps.Push != nil {
		s.deps.Push.UpdateSettings(req)
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": req})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.deps.PushEnabled || s.deps.Subscriptions == nil {
		respondError(w, http.StatusConflict, codePushDisabled, "push notifications are disabled")
		return
	}
	var req struct {
		DeviceID   string                `json:"deviceId"`
		Endpoint   string                `json:"endpoint"`
		Keys       push.SubscriptionKeys `json:"keys"`
		PaneIDs    []string              `json:"paneIds"`
		EventTypes []string              `json:"eventTypes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "endpoint is required")
		return
	}
	res, err := s.deps.Subscriptions.Upsert(push.Subscription{
		DeviceID:   req.DeviceID,
		Endpoint:   req.Endpoint,
		Keys:       req.Keys,
		PaneIDs:    req.PaneIDs,
		EventTypes: req.EventTypes,
	})
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptionId": res.SubscriptionID,
		"created":        res.Created,
		"savedAt":        res.SavedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"removedCount": 0})
		return
	}
	var req struct {
		SubscriptionID string `json:"subscriptionId"`
		Endpoint       string `json:"endpoint"`
		DeviceID       string `json:"deviceId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	removed, err := s.deps.Subscriptions.Revoke(push.RevokeQuery{
		SubscriptionID: req.SubscriptionID,
		Endpoint:       req.Endpoint,
		DeviceID:       req.DeviceID,
	})
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removedCount": removed})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("subscriptionId")
	if s.deps.Subscriptions == nil {
		respondError(w, http.StatusNotFound, codeNotFound, "subscription not found")
		return
	}
	if err := s.deps.Subscriptions.Remove(subscriptionID); err != nil {
		if errors.Is(err, push.ErrNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "subscription not found")
			return
		}
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptionId": subscriptionID})
}

func (s *Server) handlePublishSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.SummaryBus == nil {
		respondError(w, http.StatusConflict, codePushDisabled, "summary bus is disabled")
		return
	}
	var req struct {
		SchemaVersion int            `json:"schemaVersion"`
		EventID       string         `json:"eventId"`
		Source        string         `json:"source"`
		RunID         string         `json:"runId"`
		PaneID        string         `json:"paneId"`
		EventType     string         `json:"eventType"`
		Sequence      int64          `json:"sequence"`
		SourceEventAt time.Time      `json:"sourceEventAt"`
		Summary       map[string]any `json:"summary"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EventID == "" || req.PaneID == "" || req.EventType == "" {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "eventId, paneId, and eventType are required")
		return
	}
	if req.Source != string(model.AgentCodex) && req.Source != string(model.AgentClaude) {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "source must be codex or claude")
		return
	}
	if req.SourceEventAt.IsZero() {
		req.SourceEventAt = s.now()
	}

	res := s.deps.SummaryBus.Publish(summarybus.PublishRequest{
		EventID: req.EventID,
		Locator: model.SummaryLocator{
			Source:    req.Source,
			RunID:     req.RunID,
			PaneID:    req.PaneID,
			EventType: req.EventType,
			Sequence:  req.Sequence,
		},
		SourceEventAt: req.SourceEventAt,
		Summary:       req.Summary,
	})
	if !res.OK {
		status := http.StatusBadRequest
		if res.Code == summarybus.CodeMaxEventsOverflow {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]any{"error": map[string]any{"code": res.Code, "message": "summary event rejected"}})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"schemaVersion": summaryEventSchemaVersion,
		"eventId":       res.EventID,
		"deduplicated":  res.Deduplicated,
	})
}
