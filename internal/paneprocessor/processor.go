// Package paneprocessor orchestrates the observation of a single pane:
// agent classification, pipe attachment, output/input detection, state
// estimation, and SessionDetail assembly.
package paneprocessor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/agentresolver"
	"github.com/yuki-yano/vde-monitor/internal/cachemap"
	"github.com/yuki-yano/vde-monitor/internal/coalesce"
	"github.com/yuki-yano/vde-monitor/internal/fingerprint"
	"github.com/yuki-yano/vde-monitor/internal/gitquery"
	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/paneruntime"
	"github.com/yuki-yano/vde-monitor/internal/pipemanager"
)

// Classifier resolves which agent (if any) inhabits a pane.
type Classifier interface {
	Resolve(ctx context.Context, meta model.PaneMeta) agentresolver.Result
}

// Pipes is the pipe/log capability the processor needs.
type Pipes interface {
	PaneLogPath(paneID string) string
	Tag() string
	EnsurePipe(ctx context.Context, paneID string, paneHasPipe bool, pipeTag string, attachOnServe bool) (pipemanager.Status, error)
}

// Screens captures pane text for fingerprinting.
type Screens interface {
	CaptureText(ctx context.Context, paneID string, lines int) (muxbackend.CaptureResult, error)
}

// OptionReader reads multiplexer user options.
type OptionReader interface {
	ReadUserOption(ctx context.Context, paneID, key string) (string, error)
}

// Repos is the git capability the processor needs.
type Repos interface {
	RepoRoot(ctx context.Context, cwd string) (string, error)
	CurrentBranch(ctx context.Context, repoRoot string) (string, error)
	Worktrees(ctx context.Context, repoRoot string) ([]gitquery.WorktreeInfo, error)
}

// TitleProvider supplies client-set custom titles.
type TitleProvider interface {
	CustomTitle(paneID string) (string, bool)
}

// Options are the observation thresholds.
type Options struct {
	FingerprintIntervalMs int64
	FingerprintLines      int
	InactiveThresholdMs   int64
	RunningThresholdMs    int64
	AttachOnServe         bool
	PipeSupported         bool
}

func (o Options) withDefaults() Options {
	if o.FingerprintIntervalMs <= 0 {
		o.FingerprintIntervalMs = 5_000
	}
	if o.FingerprintLines <= 0 {
		o.FingerprintLines = 40
	}
	if o.InactiveThresholdMs <= 0 {
		o.InactiveThresholdMs = 10_000
	}
	if o.RunningThresholdMs <= 0 || o.RunningThresholdMs > 10_000 {
		// The running threshold is capped at 10 s regardless of configuration.
		o.RunningThresholdMs = 10_000
	}
	return o
}

const (
	repoCacheTTL  = 30 * time.Second
	tagCacheTTL   = 30 * time.Second
	cacheCapacity = 2000
)

type cachedString struct {
	value string
	at    time.Time
}

type cachedWorktrees struct {
	list []gitquery.WorktreeInfo
	at   time.Time
}

// Processor observes panes. It is safe for concurrent use across panes; a
// single pane is observed by at most one goroutine per tick.
type Processor struct {
	classifier Classifier
	pipes      Pipes
	screens    Screens
	options    OptionReader
	repos      Repos
	titles     TitleProvider
	runtime    *paneruntime.Store
	viewed     *ViewedTracker
	opts       Options
	logger     *slog.Logger

	now    func() time.Time
	statFn func(string) (os.FileInfo, error)
	openFn func(string) (io.ReadSeekCloser, error)

	mu          sync.Mutex
	tagCache    *cachemap.Map[string, cachedString]
	rootCache   *cachemap.Map[string, cachedString]
	branchCache *cachemap.Map[string, cachedString]
	wtCache     *cachemap.Map[string, cachedWorktrees]
	restored    map[string]model.SessionDetail

	rootGroup   *coalesce.Group[string]
	branchGroup *coalesce.Group[string]
	wtGroup     *coalesce.Group[[]gitquery.WorktreeInfo]
}

// New wires a Processor. titles may be nil.
func New(classifier Classifier, pipes Pipes, screens Screens, options OptionReader, repos Repos, titles TitleProvider, runtime *paneruntime.Store, viewed *ViewedTracker, opts Options, logger *slog.Logger) *Processor {
	return &Processor{
		classifier:  classifier,
		pipes:       pipes,
		screens:     screens,
		options:     options,
		repos:       repos,
		titles:      titles,
		runtime:     runtime,
		viewed:      viewed,
		opts:        opts.withDefaults(),
		logger:      logger,
		now:         time.Now,
		statFn:      os.Stat,
		openFn:      func(path string) (io.ReadSeekCloser, error) { return os.Open(path) },
		tagCache:    cachemap.New[string, cachedString](cacheCapacity),
		rootCache:   cachemap.New[string, cachedString](cacheCapacity),
		branchCache: cachemap.New[string, cachedString](cacheCapacity),
		wtCache:     cachemap.New[string, cachedWorktrees](cacheCapacity),
		restored:    map[string]model.SessionDetail{},
		rootGroup:   coalesce.NewGroup[string](),
		branchGroup: coalesce.NewGroup[string](),
		wtGroup:     coalesce.NewGroup[[]gitquery.WorktreeInfo](),
	}
}

// SetRestored seeds per-pane snapshots persisted by a previous process;
// each is consumed by the first observation of its pane.
func (p *Processor) SetRestored(details map[string]model.SessionDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, d := range details {
		p.restored[id] = d
	}
}

// RecordInput notes user-originated input sent to a pane through the
// command layer.
func (p *Processor) RecordInput(paneID string, at time.Time) {
	p.runtime.Update(paneID, func(st *model.PaneRuntimeState) {
		if st.LastInputAt == nil || at.After(*st.LastInputAt) {
			st.LastInputAt = &at
		}
	})
}

// Evict drops per-pane processor state once a pane disappears.
func (p *Processor) Evict(paneID string) {
	p.runtime.Evict(paneID)
	p.viewed.Forget(paneID)
	p.mu.Lock()
	p.tagCache.Delete(paneID)
	delete(p.restored, paneID)
	p.mu.Unlock()
}

// Process observes one pane and returns its assembled SessionDetail, or nil
// when the pane should be ignored (a bare editor pane).
func (p *Processor) Process(ctx context.Context, meta model.PaneMeta) (*model.SessionDetail, error) {
	res := p.classifier.Resolve(ctx, meta)
	if res.Ignored {
		return nil, nil
	}
	agentPane := res.Agent != model.AgentUnknown
	shellPane := !agentPane && (isShellCommand(meta.CurrentCommand) || isShellCommand(meta.PaneStartCommand))

	pipeTag := meta.PipeTagValue
	if agentPane && pipeTag == "" {
		pipeTag = p.resolvePipeTag(ctx, meta.PaneID)
	}

	var pipeStatus pipemanager.Status
	if agentPane {
		status, err := p.pipes.EnsurePipe(ctx, meta.PaneID, meta.PanePipe, pipeTag, p.opts.AttachOnServe)
		if err != nil && p.logger != nil {
			p.logger.Warn("pipe setup failed", "pane_id", meta.PaneID, "error", err)
		}
		pipeStatus = status
	} else if p.opts.PipeSupported {
		pipeStatus = pipemanager.Status{LogPath: p.pipes.PaneLogPath(meta.PaneID)}
	}

	rtCopy := p.updateOutputState(ctx, meta, agentPane, pipeStatus.LogPath)

	state, reason := p.estimateState(meta, rtCopy, agentPane, shellPane)

	repoRoot, branch, worktreePath, isWorktree := p.resolveRepo(ctx, meta.CurrentPath)

	detail := model.SessionDetail{
		PaneMeta:       meta,
		Agent:          res.Agent,
		State:          state,
		StateReason:    reason,
		RepoRoot:       repoRoot,
		Branch:         branch,
		WorktreePath:   worktreePath,
		IsWorktree:     isWorktree,
		LastMessage:    rtCopy.LastMessage,
		LastOutputAt:   rtCopy.LastOutputAt,
		LastEventAt:    rtCopy.LastEventAt,
		LastInputAt:    rtCopy.LastInputAt,
		PipeAttached:   pipeStatus.Attached,
		PipeConflict:   pipeStatus.Conflict,
		AgentSessionID: rtCopy.AgentSessionID,
	}
	detail.PipeTagValue = pipeTag
	detail.Title, detail.CustomTitle = p.resolveTitle(meta)
	return &detail, nil
}

func (p *Processor) resolveTitle(meta model.PaneMeta) (title, custom string) {
	if p.titles != nil {
		if t, ok := p.titles.CustomTitle(meta.PaneID); ok && t != "" {
			custom = t
		}
	}
	switch {
	case custom != "":
		title = custom
	case strings.TrimSpace(meta.PaneTitle) != "":
		title = strings.TrimSpace(meta.PaneTitle)
	default:
		title = fmt.Sprintf("%s:%d.%d", meta.SessionName, meta.WindowIndex, meta.PaneIndex)
	}
	return title, custom
}

func (p *Processor) resolvePipeTag(ctx context.Context, paneID string) string {
	p.mu.Lock()
	if e, ok := p.tagCache.Get(paneID); ok && p.now().Sub(e.at) < tagCacheTTL {
		p.mu.Unlock()
		return e.value
	}
	p.mu.Unlock()

	val, err := p.options.ReadUserOption(ctx, paneID, muxbackend.MonitorPipeOption)
	if err != nil {
		return ""
	}
	p.mu.Lock()
	p.tagCache.SetWithLimit(paneID, cachedString{value: val, at: p.now()})
	p.mu.Unlock()
	return val
}

// updateOutputState implements the output/input detection contract and
// returns a copy of the pane's runtime state after the update.
func (p *Processor) updateOutputState(ctx context.Context, meta model.PaneMeta, agentPane bool, logPath string) model.PaneRuntimeState {
	now := p.now()
	fallback := now.Add(-time.Duration(p.opts.InactiveThresholdMs)*time.Millisecond - time.Second)
	outputAt := fallback

	var logSize int64 = -1
	if logPath != "" {
		if info, err := p.statFn(logPath); err == nil && info.Size() > 0 {
			logSize = info.Size()
			if info.ModTime().After(outputAt) {
				outputAt = info.ModTime()
			}
		}
	}
	if meta.PaneActivity != nil && meta.PaneActivity.After(outputAt) {
		outputAt = *meta.PaneActivity
	}

	fingerprintEligible := agentPane || p.viewed.ViewedRecently(meta.PaneID)

	var out model.PaneRuntimeState
	p.runtime.Update(meta.PaneID, func(st *model.PaneRuntimeState) {
		if fingerprintEligible && now.UnixMilli()-st.LastFingerprintCaptureAtMs >= p.opts.FingerprintIntervalMs {
			if capture, err := p.screens.CaptureText(ctx, meta.PaneID, p.opts.FingerprintLines); err == nil {
				fp := fingerprint.Capture(capture.Screen, p.opts.FingerprintLines)
				changed := st.LastFingerprint != "" && st.LastFingerprint != fp
				st.LastFingerprint = fp
				st.LastFingerprintCaptureAtMs = now.UnixMilli()
				if changed && now.After(outputAt) {
					outputAt = now
				}
			}
		}

		if st.LastOutputAt == nil || outputAt.After(*st.LastOutputAt) {
			t := outputAt
			st.LastOutputAt = &t
		}

		// Waiting hook states survive output; anything else is superseded
		// once newer output arrives.
		if st.HookState != nil &&
			st.HookState.State != model.StateWaitingInput &&
			st.HookState.State != model.StateWaitingPermission &&
			outputAt.After(st.HookState.At) {
			st.HookState = nil
		}

		if agentPane && logPath != "" && logSize >= 0 {
			p.detectExternalInput(st, logPath, logSize, now)
		}

		out = *st
	})
	return out
}

// detectExternalInput scans bytes appended to the log since the stored
// cursor for the input signature. Detector failures are swallowed.
func (p *Processor) detectExternalInput(st *model.PaneRuntimeState, logPath string, logSize int64, now time.Time) {
	defer func() { _ = recover() }()

	if logSize < st.ExternalInputCursorBytes {
		// The log rotated underneath us.
		st.ExternalInputCursorBytes = 0
	}
	if logSize == st.ExternalInputCursorBytes {
		return
	}

	f, err := p.openFn(logPath)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(st.ExternalInputCursorBytes, io.SeekStart); err != nil {
		return
	}
	chunk, err := io.ReadAll(io.LimitReader(f, logSize-st.ExternalInputCursorBytes))
	if err != nil || len(chunk) == 0 {
		return
	}

	st.ExternalInputCursorBytes += int64(len(chunk))
	if !looksLikeExternalInput(chunk) {
		return
	}
	sig := sha256.Sum256(chunk)
	signature := hex.EncodeToString(sig[:])
	if signature == st.ExternalInputSignature {
		return
	}
	if st.LastInputAt == nil || now.After(*st.LastInputAt) {
		t := now
		st.LastInputAt = &t
		st.ExternalInputSignature = signature
		st.ExternalInputLastDetectedAt = &t
	}
}

// looksLikeExternalInput reports whether a log chunk carries typed input:
// printable text terminated by a carriage return, the shape an interactive
// prompt echoes when the user (or another client) submits a line.
func looksLikeExternalInput(chunk []byte) bool {
	idx := bytes.IndexByte(chunk, '\r')
	if idx <= 0 {
		return false
	}
	for _, b := range chunk[:idx] {
		if b >= 0x20 && b < 0x7f {
			return true
		}
	}
	return false
}

func (p *Processor) estimateState(meta model.PaneMeta, rt model.PaneRuntimeState, agentPane, shellPane bool) (model.State, string) {
	p.mu.Lock()
	if snap, ok := p.restored[meta.PaneID]; ok {
		delete(p.restored, meta.PaneID)
		p.mu.Unlock()
		return snap.State, "restored"
	}
	p.mu.Unlock()

	if !agentPane {
		if shellPane {
			return model.StateShell, "shell"
		}
		return model.StateUnknown, "unclassified"
	}

	if meta.PaneDead {
		return model.StateUnknown, "pane_dead"
	}
	if rt.HookState != nil &&
		(rt.HookState.State == model.StateWaitingInput || rt.HookState.State == model.StateWaitingPermission) {
		return rt.HookState.State, "hook:" + rt.HookState.Reason
	}

	now := p.now()
	if rt.LastOutputAt != nil && now.Sub(*rt.LastOutputAt).Milliseconds() <= p.opts.RunningThresholdMs {
		return model.StateRunning, "recent_output"
	}
	return model.StateWaitingInput, "idle"
}

func (p *Processor) resolveRepo(ctx context.Context, cwd string) (repoRoot, branch, worktreePath string, isWorktree bool) {
	cwd = strings.TrimSpace(cwd)
	if cwd == "" {
		return "", "", "", false
	}

	repoRoot = p.cachedString(ctx, p.rootCache, p.rootGroup, "root:"+cwd, func(ctx context.Context) (string, error) {
		return p.repos.RepoRoot(ctx, cwd)
	})
	if repoRoot == "" {
		return "", "", "", false
	}

	branch = p.cachedString(ctx, p.branchCache, p.branchGroup, "branch:"+repoRoot, func(ctx context.Context) (string, error) {
		return p.repos.CurrentBranch(ctx, repoRoot)
	})

	worktrees := p.cachedWorktreeList(ctx, repoRoot)
	for _, wt := range worktrees {
		if wt.Path == repoRoot && !wt.IsMain {
			return repoRoot, branch, repoRoot, true
		}
	}
	return repoRoot, branch, "", false
}

func (p *Processor) cachedString(ctx context.Context, cache *cachemap.Map[string, cachedString], group *coalesce.Group[string], cacheKey string, fn func(context.Context) (string, error)) string {
	p.mu.Lock()
	if e, ok := cache.Get(cacheKey); ok && p.now().Sub(e.at) < repoCacheTTL {
		p.mu.Unlock()
		return e.value
	}
	p.mu.Unlock()

	value, err := group.Do(cacheKey, func() (string, error) { return fn(ctx) })
	if err != nil {
		value = ""
	}
	p.mu.Lock()
	cache.SetWithLimit(cacheKey, cachedString{value: value, at: p.now()})
	p.mu.Unlock()
	return value
}

func (p *Processor) cachedWorktreeList(ctx context.Context, repoRoot string) []gitquery.WorktreeInfo {
	p.mu.Lock()
	if e, ok := p.wtCache.Get(repoRoot); ok && p.now().Sub(e.at) < repoCacheTTL {
		p.mu.Unlock()
		return e.list
	}
	p.mu.Unlock()

	list, err := p.wtGroup.Do(repoRoot, func() ([]gitquery.WorktreeInfo, error) {
		return p.repos.Worktrees(ctx, repoRoot)
	})
	if err != nil {
		list = nil
	}
	p.mu.Lock()
	p.wtCache.SetWithLimit(repoRoot, cachedWorktrees{list: list, at: p.now()})
	p.mu.Unlock()
	return list
}

var shellNames = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "fish": {}, "dash": {}, "ksh": {}, "tcsh": {}, "nu": {},
}

func isShellCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	fields := strings.Fields(command)
	base := fields[0]
	base = strings.TrimPrefix(base, "-") // login shells report "-zsh"
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	_, ok := shellNames[base]
	return ok
}
