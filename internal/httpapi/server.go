// Package httpapi serves the monitor's read+control HTTP surface: session
// queries, screen deltas, command dispatch, launch, and notification
// management, all under a bearer-token base path.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/dispatch"
	"github.com/yuki-yano/vde-monitor/internal/gitquery"
	"github.com/yuki-yano/vde-monitor/internal/global"
	"github.com/yuki-yano/vde-monitor/internal/historydb"
	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/paneprocessor"
	"github.com/yuki-yano/vde-monitor/internal/push"
	"github.com/yuki-yano/vde-monitor/internal/ratelimit"
	"github.com/yuki-yano/vde-monitor/internal/registry"
	"github.com/yuki-yano/vde-monitor/internal/screendelta"
	"github.com/yuki-yano/vde-monitor/internal/summarybus"
	"github.com/yuki-yano/vde-monitor/internal/timeline"
)

// Public error codes carried in the {error:{code,message}} envelope.
const (
	codeInvalidPayload  = "INVALID_PAYLOAD"
	codeInvalidPane     = "INVALID_PANE"
	codeNotFound        = "NOT_FOUND"
	codeRateLimit       = "RATE_LIMIT"
	codeReadOnly        = "READ_ONLY"
	codeRepoUnavailable = "REPO_UNAVAILABLE"
	codePushDisabled    = "PUSH_DISABLED"
	codeInternal        = "INTERNAL"
	codeUnauthorized    = "UNAUTHORIZED"
)

// ScreenSource captures pane text for the screen endpoint.
type ScreenSource interface {
	CaptureText(ctx context.Context, paneID string, lines int) (muxbackend.CaptureResult, error)
}

// DirHistory records and lists launch working directories.
type DirHistory interface {
	Upsert(path string) error
	List(limit int) ([]historydb.Entry, error)
}

// Deps wires the server to the rest of the application.
type Deps struct {
	Registry      *registry.Registry
	Timeline      *timeline.Store
	Screens       ScreenSource
	ScreenCache   *screendelta.Cache
	ScreenLimiter *ratelimit.Limiter
	Viewed        *paneprocessor.ViewedTracker
	SendText      *dispatch.SendTextExecutor
	Dispatcher    *dispatch.Dispatcher
	Launcher      *dispatch.LaunchExecutor
	Push          *push.Dispatcher
	Subscriptions *push.SubscriptionStore
	SummaryBus    *summarybus.Bus
	Git           gitquery.Queries
	Notes         *historydb.NotesStore
	Titles        *historydb.TitleStore
	LaunchAudit   *historydb.LaunchAuditStore
	DirHistory    DirHistory

	AuthToken      string
	PushEnabled    bool
	VAPIDPublicKey string
	ClientConfig   global.ClientConfig

	Logger *slog.Logger
}

// Server is the HTTP API under /api.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	hub  *WSHub
	now  func() time.Time
}

// NewServer registers every route and returns the server.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: NewWSHub(), now: time.Now}
	s.registerSessionRoutes()
	s.registerCommandRoutes()
	s.registerGitRoutes()
	s.registerNoteRoutes()
	s.registerNotificationRoutes()
	s.mux.HandleFunc("GET /api/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/ws", s.hub.HandleWS)
	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

// Hub exposes the websocket hub so the monitor can publish live updates.
func (s *Server) Hub() *WSHub { return s.hub }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// withMiddleware applies CORS, cache suppression, request-id echo, and
// bearer auth (OPTIONS requests are exempt).
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Request-Id, X-Request-Id")
		if reqID := requestID(r); reqID != "" {
			h.Set("Request-Id", reqID)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !s.authorized(r) {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if v := r.Header.Get("Request-Id"); v != "" {
		return v
	}
	return r.Header.Get("X-Request-Id")
}

func (s *Server) authorized(r *http.Request) bool {
	if s.deps.AuthToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	return strings.HasPrefix(auth, prefix) && auth[len(prefix):] == s.deps.AuthToken
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var configValidationRe = regexp.MustCompile(`(?i)^invalid (?:project )?config(?: JSON)?: `)

// respondInternal collapses unexpected handler errors to INTERNAL; config
// validation failures additionally expose the original message as
// errorCause so operators can repair their config file.
func respondInternal(w http.ResponseWriter, err error) {
	if err != nil && configValidationRe.MatchString(err.Error()) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{
				"code":       codeInternal,
				"message":    "configuration validation failed",
				"errorCause": err.Error(),
			},
		})
		return
	}
	respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// limiterKey buckets rate-limit counters by bearer token, falling back to a
// synthetic shared key when auth is disabled.
func (s *Server) limiterKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		return auth
	}
	return "anonymous"
}
