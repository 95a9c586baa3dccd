package dispatch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/progdetector"
	"github.com/yuki-yano/vde-monitor/internal/ratelimit"
)

// LaunchRequest carries one launch-agent submission.
type LaunchRequest struct {
	SessionName             string
	Agent                   string
	RequestID               string
	WindowName              string
	Cwd                     string
	AgentOptions            []string
	WorktreePath            string
	WorktreeBranch          string
	WorktreeCreateIfMissing bool
}

// Rollback reports whether a failed launch's side effects were undone.
type Rollback struct {
	Attempted bool `json:"attempted"`
	OK        bool `json:"ok"`
}

// LaunchResponse is the launch command's result envelope.
type LaunchResponse struct {
	OK          bool          `json:"ok"`
	Error       *CommandError `json:"error,omitempty"`
	SessionName string        `json:"sessionName,omitempty"`
	PaneID      string        `json:"paneId,omitempty"`
	Replayed    bool          `json:"replayed,omitempty"`
	Rollback    Rollback      `json:"rollback"`
}

// WorktreeManager is the git capability the launch path needs.
type WorktreeManager interface {
	AddWorktree(ctx context.Context, repoRoot, path, branch string) error
	RemoveWorktree(ctx context.Context, repoRoot, path string) error
}

// LaunchExecutor implements launch-agent with (sessionName, requestId)
// idempotency. The cache is consulted before the rate limiter so a retried
// successful launch replays without consuming limiter budget.
type LaunchExecutor struct {
	backend   muxbackend.Backend
	limiter   *ratelimit.Limiter
	registry  *progdetector.Registry
	worktrees WorktreeManager
	readOnly  bool
	logger    *slog.Logger
	cache     *idemCache[LaunchResponse]
}

// NewLaunchExecutor builds the executor; the replay cache defaults to a
// 60 s TTL and 500 entries unless overridden.
func NewLaunchExecutor(backend muxbackend.Backend, limiter *ratelimit.Limiter, registry *progdetector.Registry, worktrees WorktreeManager, readOnly bool, ttl time.Duration, maxEntries int, logger *slog.Logger) *LaunchExecutor {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &LaunchExecutor{
		backend:   backend,
		limiter:   limiter,
		registry:  registry,
		worktrees: worktrees,
		readOnly:  readOnly,
		logger:    logger,
		cache:     newIdemCache[LaunchResponse](ttl, maxEntries),
	}
}

func launchFailure(code, message string) LaunchResponse {
	return LaunchResponse{Error: &CommandError{Code: code, Message: message}, Rollback: Rollback{Attempted: false, OK: true}}
}

// Execute launches an agent pane in sessionName, observing the idempotency
// contract when req.RequestID is set.
func (e *LaunchExecutor) Execute(ctx context.Context, limiterKey string, req LaunchRequest) LaunchResponse {
	if req.RequestID == "" {
		return e.run(ctx, limiterKey, req)
	}

	key := req.SessionName + "\x1f" + req.RequestID
	fingerprint := Fingerprint(req.SessionName, req.Agent, req.WindowName, req.Cwd,
		strings.Join(req.AgentOptions, "\x1e"), req.WorktreePath, req.WorktreeBranch)
	result, outcome := e.cache.Do(key, fingerprint, func() (LaunchResponse, bool) {
		res := e.run(ctx, limiterKey, req)
		return res, res.OK
	})
	if outcome == OutcomeMismatch {
		return launchFailure(CodeInvalidPayload, "requestId payload mismatch")
	}
	result.Replayed = outcome == OutcomeReplayed
	return result
}

func (e *LaunchExecutor) run(ctx context.Context, limiterKey string, req LaunchRequest) LaunchResponse {
	if e.readOnly {
		return launchFailure(CodeReadOnly, "server is in read-only mode")
	}
	if strings.TrimSpace(req.SessionName) == "" {
		return launchFailure(CodeInvalidPayload, "sessionName is required")
	}
	detector, ok := e.registry.Get(req.Agent)
	if !ok {
		return launchFailure(CodeInvalidPayload, "unknown agent: "+req.Agent)
	}
	if e.limiter != nil && !e.limiter.Allow(limiterKey) {
		return launchFailure(CodeRateLimit, "rate limit exceeded")
	}

	cwd := req.Cwd
	worktreeCreated := false
	if req.WorktreePath != "" {
		created, err := e.ensureWorktree(ctx, req)
		if err != nil {
			return launchFailure(CodeInternal, "worktree setup failed: "+err.Error())
		}
		worktreeCreated = created
		cwd = req.WorktreePath
	}

	command := strings.Join(detector.LaunchCommand(progdetector.LaunchOptions{ExtraArgs: req.AgentOptions}), " ")
	paneID, err := e.backend.LaunchAgentInSession(ctx, muxbackend.LaunchRequest{
		SessionName: req.SessionName,
		Command:     command,
		Cwd:         cwd,
		WindowName:  req.WindowName,
	})
	if err != nil {
		rollback := Rollback{Attempted: false, OK: true}
		if worktreeCreated {
			rollback.Attempted = true
			rollback.OK = e.rollbackWorktree(ctx, req)
		}
		if e.logger != nil {
			e.logger.Warn("launch failed", "session", req.SessionName, "agent", req.Agent, "error", err)
		}
		return LaunchResponse{Error: &CommandError{Code: CodeTmuxUnavailable, Message: err.Error()}, Rollback: rollback}
	}

	if e.logger != nil {
		e.logger.Info("launched agent", "session", req.SessionName, "agent", req.Agent, "pane_id", paneID)
	}
	return LaunchResponse{OK: true, SessionName: req.SessionName, PaneID: paneID, Rollback: Rollback{Attempted: false, OK: true}}
}

// ensureWorktree creates the requested worktree when it is missing and
// creation was asked for; returns whether it created one.
func (e *LaunchExecutor) ensureWorktree(ctx context.Context, req LaunchRequest) (bool, error) {
	if _, err := os.Stat(req.WorktreePath); err == nil {
		return false, nil
	}
	if !req.WorktreeCreateIfMissing {
		return false, os.ErrNotExist
	}
	if e.worktrees == nil {
		return false, os.ErrNotExist
	}
	if err := e.worktrees.AddWorktree(ctx, req.Cwd, req.WorktreePath, req.WorktreeBranch); err != nil {
		return false, err
	}
	return true, nil
}

func (e *LaunchExecutor) rollbackWorktree(ctx context.Context, req LaunchRequest) bool {
	if e.worktrees == nil {
		return false
	}
	if err := e.worktrees.RemoveWorktree(ctx, req.Cwd, req.WorktreePath); err != nil {
		if e.logger != nil {
			e.logger.Warn("worktree rollback failed", "path", req.WorktreePath, "error", err)
		}
		return false
	}
	return true
}
