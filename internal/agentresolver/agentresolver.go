// Package agentresolver classifies a pane as codex, claude, or unknown
// from command hints, a process-command lookup, a pid-tree walk, and
// finally a tty-inhabitant lookup, with every external step cached
// (short TTL) and coalesced.
package agentresolver

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/cachemap"
	"github.com/yuki-yano/vde-monitor/internal/coalesce"
	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/procinspect"
	"github.com/yuki-yano/vde-monitor/internal/progdetector"

	_ "github.com/yuki-yano/vde-monitor/internal/progdetector/claude"
	_ "github.com/yuki-yano/vde-monitor/internal/progdetector/codex"
)

// knownEditors are text editors that, when running with no agent hint
// anywhere, mean the pane should be ignored entirely.
var knownEditors = map[string]struct{}{
	"vim": {}, "nvim": {}, "vi": {}, "emacs": {}, "nano": {}, "pico": {},
	"code": {}, "subl": {}, "micro": {},
}

const cacheTTL = 30 * time.Second
const cacheLimit = 2000

type cacheEntry struct {
	agent model.Agent
	at    time.Time
}

const snapshotTTL = 2 * time.Second

// Resolver classifies panes; Resolve is safe for concurrent use.
type Resolver struct {
	procs procinspect.Inspector
	now   func() time.Time

	mu           sync.Mutex
	commandCache *cachemap.Map[string, cacheEntry]
	ttyCache     *cachemap.Map[string, cacheEntry]
	snapshot     []procinspect.ProcessInfo
	snapshotAt   time.Time

	commandGroup  *coalesce.Group[model.Agent]
	ttyGroup      *coalesce.Group[model.Agent]
	snapshotGroup *coalesce.Group[[]procinspect.ProcessInfo]
}

// New builds a Resolver backed by procs.
func New(procs procinspect.Inspector) *Resolver {
	return &Resolver{
		procs:         procs,
		now:           time.Now,
		commandCache:  cachemap.New[string, cacheEntry](cacheLimit),
		ttyCache:      cachemap.New[string, cacheEntry](cacheLimit),
		commandGroup:  coalesce.NewGroup[model.Agent](),
		ttyGroup:      coalesce.NewGroup[model.Agent](),
		snapshotGroup: coalesce.NewGroup[[]procinspect.ProcessInfo](),
	}
}

// Result is what Resolve reports: the classified agent, or Ignored=true
// when the pane should be dropped from observation entirely (a known
// editor with no agent argument).
type Result struct {
	Agent   model.Agent
	Ignored bool
}

// Resolve classifies meta, falling through hint match, editor check,
// process command, pid tree, and tty lookup in that order.
func (r *Resolver) Resolve(ctx context.Context, meta model.PaneMeta) Result {
	// Each hint is matched on its own, so an agent named by any one of them
	// (e.g. an editor pane started from an agent command) wins over the
	// editor check below.
	for _, hint := range []string{meta.CurrentCommand, meta.PaneStartCommand, meta.PaneTitle} {
		if agent, ok := matchAgentHint(hint); ok {
			return Result{Agent: agent}
		}
	}

	if isKnownEditor(meta.CurrentCommand) || isKnownEditor(meta.PaneStartCommand) {
		return Result{Ignored: true}
	}

	if meta.PanePid > 0 {
		if agent := r.resolveByProcessCommand(ctx, meta.PanePid); agent != model.AgentUnknown {
			return Result{Agent: agent}
		}
	}

	if meta.PanePid > 0 {
		if agent := r.resolveByPidTree(ctx, meta.PanePid); agent != model.AgentUnknown {
			return Result{Agent: agent}
		}
	}

	if meta.PaneTty != "" {
		if agent := r.resolveByTty(ctx, meta.PaneTty); agent != model.AgentUnknown {
			return Result{Agent: agent}
		}
	}

	return Result{Agent: model.AgentUnknown}
}

func (r *Resolver) resolveByProcessCommand(ctx context.Context, pid int) model.Agent {
	key := strconv.Itoa(pid)
	if cached, ok := r.getCache(r.commandCache, key); ok {
		return cached
	}
	agent, _ := r.commandGroup.Do(key, func() (model.Agent, error) {
		cmd, err := r.procs.Command(ctx, pid)
		if err != nil {
			return model.AgentUnknown, err
		}
		a, _ := matchAgentHint(cmd)
		return a, nil
	})
	r.setCache(r.commandCache, key, agent)
	return agent
}

func (r *Resolver) resolveByPidTree(ctx context.Context, pid int) model.Agent {
	snapshot, err := r.processSnapshot(ctx)
	if err != nil {
		return model.AgentUnknown
	}
	children := map[int32][]procinspect.ProcessInfo{}
	for _, p := range snapshot {
		children[p.Ppid] = append(children[p.Ppid], p)
	}
	visited := map[int32]bool{}
	var walk func(int32) model.Agent
	walk = func(target int32) model.Agent {
		if visited[target] {
			return model.AgentUnknown
		}
		visited[target] = true
		for _, child := range children[target] {
			if a, ok := matchAgentHint(child.Cmdline); ok {
				return a
			}
			if a, ok := matchAgentHint(child.Name); ok {
				return a
			}
			if a := walk(child.Pid); a != model.AgentUnknown {
				return a
			}
		}
		return model.AgentUnknown
	}
	return walk(int32(pid))
}

func (r *Resolver) resolveByTty(ctx context.Context, tty string) model.Agent {
	if cached, ok := r.getCache(r.ttyCache, tty); ok {
		return cached
	}
	agent, _ := r.ttyGroup.Do(tty, func() (model.Agent, error) {
		procs, err := r.procs.TtyInhabitants(ctx, tty)
		if err != nil {
			return model.AgentUnknown, err
		}
		for _, p := range procs {
			if a, ok := matchAgentHint(p.Cmdline); ok {
				return a, nil
			}
			if a, ok := matchAgentHint(p.Name); ok {
				return a, nil
			}
		}
		return model.AgentUnknown, nil
	})
	r.setCache(r.ttyCache, tty, agent)
	return agent
}

// processSnapshot serves the pid-tree walk from a short-lived cached copy so
// a tick over many panes triggers at most one real process listing.
func (r *Resolver) processSnapshot(ctx context.Context) ([]procinspect.ProcessInfo, error) {
	r.mu.Lock()
	if r.snapshot != nil && r.now().Sub(r.snapshotAt) < snapshotTTL {
		snap := r.snapshot
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	snap, err := r.snapshotGroup.Do("snapshot", func() ([]procinspect.ProcessInfo, error) {
		return r.procs.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.snapshot = snap
	r.snapshotAt = r.now()
	r.mu.Unlock()
	return snap, nil
}

func (r *Resolver) getCache(c *cachemap.Map[string, cacheEntry], key string) (model.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := c.Get(key)
	if !ok || r.now().Sub(e.at) >= cacheTTL {
		return model.AgentUnknown, false
	}
	return e.agent, true
}

func (r *Resolver) setCache(c *cachemap.Map[string, cacheEntry], key string, agent model.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.SetWithLimit(key, cacheEntry{agent: agent, at: r.now()})
}

// matchAgentHint asks the program-detector registry (codex and claude are
// registered via the blank imports above) whether text mentions an agent.
func matchAgentHint(text string) (model.Agent, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.AgentUnknown, false
	}
	if d, ok := progdetector.ProgramDetectorRegistry.DetectByCurrentCommand(text); ok {
		return model.Agent(d.ProgramID()), true
	}
	return model.AgentUnknown, false
}

func isKnownEditor(command string) bool {
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" {
		return false
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	base := fields[0]
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	_, ok := knownEditors[base]
	return ok
}
