// Package procinspect implements the Process Inspector capability: the
// narrow `ps -p`, `ps -ax`, `ps -t`-shaped queries the Agent Resolver needs
// to classify a pane by its process tree, backed by gopsutil instead of
// shelling out; gopsutil gives the same data as typed Go without a
// subprocess per call.
package procinspect

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo is the minimal shape the Agent Resolver needs about one pid.
type ProcessInfo struct {
	Pid     int32
	Ppid    int32
	Name    string
	Cmdline string
}

// Inspector is the capability interface; a fake backs unit tests, the real
// implementation wraps gopsutil.
type Inspector interface {
	// Command returns the command line for a single pid (ps -p pid -o command=).
	Command(ctx context.Context, pid int) (string, error)
	// Snapshot returns every process currently visible to this host (ps -ax),
	// used for the pid-tree walk.
	Snapshot(ctx context.Context) ([]ProcessInfo, error)
	// TtyInhabitants returns the pids whose controlling tty matches tty
	// (ps -t tty).
	TtyInhabitants(ctx context.Context, tty string) ([]ProcessInfo, error)
}

const callTimeout = 2 * time.Second

// GopsutilInspector is the real Inspector, backed by github.com/shirou/gopsutil/v4.
type GopsutilInspector struct{}

func New() *GopsutilInspector { return &GopsutilInspector{} }

func (g *GopsutilInspector) Command(ctx context.Context, pid int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cmdline), nil
}

func (g *GopsutilInspector) Snapshot(ctx context.Context) ([]ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, _ := p.NameWithContext(ctx)
		cmdline, _ := p.CmdlineWithContext(ctx)
		ppid, _ := p.PpidWithContext(ctx)
		out = append(out, ProcessInfo{
			Pid:     p.Pid,
			Ppid:    ppid,
			Name:    name,
			Cmdline: cmdline,
		})
	}
	return out, nil
}

func (g *GopsutilInspector) TtyInhabitants(ctx context.Context, tty string) ([]ProcessInfo, error) {
	tty = strings.TrimSpace(tty)
	if tty == "" {
		return nil, nil
	}
	all, err := g.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	var out []ProcessInfo
	for _, info := range all {
		p, err := process.NewProcessWithContext(ctx2, info.Pid)
		if err != nil {
			continue
		}
		term, err := p.TerminalWithContext(ctx2)
		if err != nil {
			continue
		}
		if ttyMatches(term, tty) {
			out = append(out, info)
		}
	}
	return out, nil
}

func ttyMatches(term, tty string) bool {
	term = strings.TrimPrefix(strings.TrimSpace(term), "/dev/")
	tty = strings.TrimPrefix(strings.TrimSpace(tty), "/dev/")
	return term != "" && term == tty
}
