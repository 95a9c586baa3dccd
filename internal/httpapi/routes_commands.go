package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/yuki-yano/vde-monitor/internal/dispatch"
)

// allowedKeys is the closed set accepted by the send-keys endpoint.
var allowedKeys = map[string]struct{}{
	"Enter": {}, "Escape": {}, "Tab": {}, "BTab": {}, "Space": {}, "BSpace": {},
	"Up": {}, "Down": {}, "Left": {}, "Right": {},
	"Home": {}, "End": {}, "PageUp": {}, "PageDown": {},
	"C-c": {}, "C-d": {}, "C-u": {}, "C-r": {}, "C-l": {},
}

func (s *Server) registerCommandRoutes() {
	s.mux.HandleFunc("POST /api/sessions/{paneId}/send/text", s.handleSendText)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/send/keys", s.handleSendKeys)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/send/raw", s.handleSendRaw)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/focus", s.handleFocus)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/kill/pane", s.handleKillPane)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/kill/window", s.handleKillWindow)
	s.mux.HandleFunc("POST /api/sessions/launch", s.handleLaunch)
	s.mux.HandleFunc("GET /api/sessions/launch/directories", s.handleLaunchDirectories)
}

// handleLaunchDirectories suggests recently used launch directories.
func (s *Server) handleLaunchDirectories(w http.ResponseWriter, r *http.Request) {
	if s.deps.DirHistory == nil {
		writeJSON(w, http.StatusOK, map[string]any{"directories": []any{}})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	entries, err := s.deps.DirHistory.List(limit)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"directories": entries})
}

// writeCommand maps a dispatcher response to HTTP, mirroring the error
// taxonomy: limiter rejections become 429, payload/pane/read-only errors
// 400/404/403, and any other error code 502.
func writeCommand(w http.ResponseWriter, res dispatch.CommandResponse) {
	status := http.StatusOK
	if !res.OK && res.Error != nil {
		switch res.Error.Code {
		case dispatch.CodeRateLimit:
			status = http.StatusTooManyRequests
		case dispatch.CodeInvalidPayload:
			status = http.StatusBadRequest
		case dispatch.CodeInvalidPane:
			status = http.StatusNotFound
		case dispatch.CodeReadOnly:
			status = http.StatusForbidden
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]any{"command": res})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	var req struct {
		Text      string `json:"text"`
		Enter     bool   `json:"enter"`
		RequestID string `json:"requestId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "text is required")
		return
	}
	res := s.deps.SendText.Execute(r.Context(), s.limiterKey(r), detail.PaneID, req.Text, req.Enter, req.RequestID)
	writeCommand(w, res)
}

func (s *Server) handleSendKeys(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Keys) == 0 {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "keys are required")
		return
	}
	for _, key := range req.Keys {
		if _, ok := allowedKeys[key]; !ok {
			respondError(w, http.StatusBadRequest, codeInvalidPayload, "key not allowed: "+key)
			return
		}
	}
	res := s.deps.Dispatcher.ExecuteCommand(r.Context(), s.limiterKey(r), dispatch.Payload{
		Type:   dispatch.TypeSendKeys,
		PaneID: detail.PaneID,
		Keys:   req.Keys,
	})
	writeCommand(w, res)
}

func (s *Server) handleSendRaw(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	var req struct {
		Items  []string `json:"items"`
		Unsafe bool     `json:"unsafe"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "items are required")
		return
	}
	if !req.Unsafe {
		for _, item := range req.Items {
			if strings.ContainsAny(item, "\x1b\x00") {
				respondError(w, http.StatusBadRequest, codeInvalidPayload, "control sequences require unsafe=true")
				return
			}
		}
	}
	res := s.deps.Dispatcher.ExecuteCommand(r.Context(), s.limiterKey(r), dispatch.Payload{
		Type:   dispatch.TypeSendRaw,
		PaneID: detail.PaneID,
		Items:  req.Items,
	})
	writeCommand(w, res)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, dispatch.TypeFocus)
}

func (s *Server) handleKillPane(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, dispatch.TypeKillPane)
}

func (s *Server) handleKillWindow(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, dispatch.TypeKillWindow)
}

func (s *Server) handleSimpleCommand(w http.ResponseWriter, r *http.Request, commandType string) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	res := s.deps.Dispatcher.ExecuteCommand(r.Context(), s.limiterKey(r), dispatch.Payload{
		Type:   commandType,
		PaneID: detail.PaneID,
	})
	writeCommand(w, res)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionName             string   `json:"sessionName"`
		Agent                   string   `json:"agent"`
		RequestID               string   `json:"requestId"`
		WindowName              string   `json:"windowName"`
		Cwd                     string   `json:"cwd"`
		AgentOptions            []string `json:"agentOptions"`
		WorktreePath            string   `json:"worktreePath"`
		WorktreeBranch          string   `json:"worktreeBranch"`
		WorktreeCreateIfMissing bool     `json:"worktreeCreateIfMissing"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res := s.deps.Launcher.Execute(r.Context(), s.limiterKey(r), dispatch.LaunchRequest{
		SessionName:             req.SessionName,
		Agent:                   req.Agent,
		RequestID:               req.RequestID,
		WindowName:              req.WindowName,
		Cwd:                     req.Cwd,
		AgentOptions:            req.AgentOptions,
		WorktreePath:            req.WorktreePath,
		WorktreeBranch:          req.WorktreeBranch,
		WorktreeCreateIfMissing: req.WorktreeCreateIfMissing,
	})

	if res.OK {
		if s.deps.DirHistory != nil && req.Cwd != "" {
			_ = s.deps.DirHistory.Upsert(req.Cwd)
		}
		if s.deps.LaunchAudit != nil && !res.Replayed {
			_ = s.deps.LaunchAudit.Record(req.RequestID, req.SessionName, req.Agent, res.PaneID, true, "")
		}
	} else if s.deps.LaunchAudit != nil && res.Error != nil {
		_ = s.deps.LaunchAudit.Record(req.RequestID, req.SessionName, req.Agent, "", false, res.Error.Code)
	}

	status := http.StatusOK
	if !res.OK && res.Error != nil {
		switch res.Error.Code {
		case dispatch.CodeRateLimit:
			status = http.StatusTooManyRequests
		case dispatch.CodeInvalidPayload:
			status = http.StatusBadRequest
		case dispatch.CodeReadOnly:
			status = http.StatusForbidden
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]any{"command": res})
}
