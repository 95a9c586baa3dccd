package httpapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/screendelta"
	"github.com/yuki-yano/vde-monitor/internal/timeline"
)

const maxTitleLength = 80

func (s *Server) registerSessionRoutes() {
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{paneId}", s.handleGetSession)
	s.mux.HandleFunc("PUT /api/sessions/{paneId}/title", s.handlePutTitle)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/touch", s.handleTouch)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/timeline", s.handleTimeline)
	s.mux.HandleFunc("GET /api/timeline", s.handleGlobalTimeline)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/screen", s.handleScreen)
}

// paneDetail resolves the path pane or writes a 404.
func (s *Server) paneDetail(w http.ResponseWriter, r *http.Request) (model.SessionDetail, bool) {
	paneID := r.PathValue("paneId")
	detail, ok := s.deps.Registry.GetDetail(paneID)
	if !ok {
		respondError(w, http.StatusNotFound, codeInvalidPane, "unknown pane: "+paneID)
		return model.SessionDetail{}, false
	}
	return detail, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Registry.Values()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].PaneID < sessions[j].PaneID })
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":     sessions,
		"serverTime":   s.now().UTC().Format(time.RFC3339Nano),
		"clientConfig": s.deps.ClientConfig,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": detail})
}

func (s *Server) handlePutTitle(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	var req struct {
		Title *string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
	}
	if len(title) > maxTitleLength {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "title is too long")
		return
	}

	if s.deps.Titles != nil {
		if err := s.deps.Titles.Set(detail.PaneID, title); err != nil {
			respondInternal(w, err)
			return
		}
	}
	detail.CustomTitle = title
	if title != "" {
		detail.Title = title
	}
	s.deps.Registry.Update(detail)
	writeJSON(w, http.StatusOK, map[string]any{"session": detail})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	s.deps.Viewed.MarkViewed(detail.PaneID)
	writeJSON(w, http.StatusOK, map[string]any{"session": detail})
}

func parseTimelineParams(w http.ResponseWriter, r *http.Request) (timeline.Range, int, bool) {
	rangeName := r.URL.Query().Get("range")
	if rangeName == "" {
		rangeName = "1h"
	}
	rng, ok := timeline.RangeByName(rangeName)
	if !ok {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "unknown range: "+rangeName)
		return timeline.Range{}, 0, false
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, codeInvalidPayload, "limit must be between 1 and 500")
			return timeline.Range{}, 0, false
		}
		limit = n
	}
	return rng, limit, true
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	rng, limit, ok := parseTimelineParams(w, r)
	if !ok {
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "pane"
	}

	now := s.now()
	var items []model.TimelineItem
	var totals timeline.Totals
	switch scope {
	case "pane":
		items, totals = s.deps.Timeline.Query(detail.PaneID, rng, limit, now)
	case "repo":
		if detail.RepoRoot == "" {
			respondError(w, http.StatusBadRequest, codeRepoUnavailable, "repo timeline unavailable for this pane")
			return
		}
		var paneIDs []string
		for _, d := range s.deps.Registry.Values() {
			if d.RepoRoot == detail.RepoRoot {
				paneIDs = append(paneIDs, d.PaneID)
			}
		}
		items, totals = s.deps.Timeline.QueryPanes(paneIDs, rng, limit, now)
	default:
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "unknown scope: "+scope)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timeline": map[string]any{
			"range":    rng.Name,
			"scope":    scope,
			"items":    items,
			"totalsMs": totals,
		},
	})
}

func (s *Server) handleGlobalTimeline(w http.ResponseWriter, r *http.Request) {
	rng, limit, ok := parseTimelineParams(w, r)
	if !ok {
		return
	}
	var paneIDs []string
	for _, d := range s.deps.Registry.Values() {
		paneIDs = append(paneIDs, d.PaneID)
	}
	items, totals := s.deps.Timeline.QueryPanes(paneIDs, rng, limit, s.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"timeline": map[string]any{
			"range":    rng.Name,
			"scope":    "global",
			"items":    items,
			"totalsMs": totals,
		},
	})
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode   string `json:"mode"`
		Lines  int    `json:"lines"`
		Cursor string `json:"cursor"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.deps.ScreenLimiter != nil && !s.deps.ScreenLimiter.Allow(s.limiterKey(r)) {
		respondError(w, http.StatusTooManyRequests, codeRateLimit, "rate limit exceeded")
		return
	}

	lines := req.Lines
	if lines <= 0 {
		lines = s.deps.ClientConfig.ScreenLines
	}

	capture, err := s.deps.Screens.CaptureText(r.Context(), detail.PaneID, lines)
	if err != nil {
		respondInternal(w, err)
		return
	}
	s.deps.Viewed.MarkViewed(detail.PaneID)

	res := s.deps.ScreenCache.BuildTextResponse(detail.PaneID, lines, capture.Screen, screendelta.CaptureMeta{
		AlternateOn: capture.AlternateOn || detail.AlternateOn,
		Truncated:   capture.Truncated,
	}, req.Cursor)

	screen := map[string]any{
		"full":   res.Full,
		"cursor": res.Cursor,
	}
	if res.Full {
		screen["screen"] = res.Screen
	} else {
		screen["deltas"] = res.Deltas
	}
	writeJSON(w, http.StatusOK, map[string]any{"screen": screen})
}
