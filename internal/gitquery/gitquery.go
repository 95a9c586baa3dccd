// Package gitquery implements the Git/Worktree Queries capability: the
// narrow set of `git` invocations the Pane Processor and the HTTP layer's
// git-backed routes need, each invocation under its own hard timeout.
package gitquery

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotAGitRepo is returned when cwd is not inside a git working tree.
var ErrNotAGitRepo = errors.New("not a git repository")

// WorktreeInfo describes one worktree entry from `git worktree list`.
type WorktreeInfo struct {
	Path     string `json:"path"`
	Branch   string `json:"branch,omitempty"`
	IsMain   bool   `json:"isMain"`
	HeadOnly bool   `json:"headOnly"`
}

// Queries is the capability interface; a fake backs unit tests.
type Queries interface {
	RepoRoot(ctx context.Context, cwd string) (string, error)
	CurrentBranch(ctx context.Context, repoRoot string) (string, error)
	Worktrees(ctx context.Context, repoRoot string) ([]WorktreeInfo, error)
	Diff(ctx context.Context, repoRoot string) (string, error)
	DiffFile(ctx context.Context, repoRoot, path string) (string, error)
	Commits(ctx context.Context, repoRoot string, limit int) ([]CommitInfo, error)
	Commit(ctx context.Context, repoRoot, hash string) (CommitInfo, error)
	CommitFile(ctx context.Context, repoRoot, hash, path string) (string, error)
}

// CommitInfo is one row of `git log`.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
}

const callTimeout = 3 * time.Second

// CLI is the real Queries implementation, backed by the `git` binary.
type CLI struct{}

func New() *CLI { return &CLI{} }

func (c *CLI) RepoRoot(ctx context.Context, cwd string) (string, error) {
	out, err := run(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", ErrNotAGitRepo
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	out, err := run(ctx, repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) Worktrees(ctx context.Context, repoRoot string) ([]WorktreeInfo, error) {
	out, err := run(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var cur WorktreeInfo
	first := true
	flush := func() {
		if cur.Path != "" {
			cur.IsMain = first
			worktrees = append(worktrees, cur)
			first = false
		}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare" || line == "detached":
			cur.HeadOnly = line == "detached"
		}
	}
	flush()
	return worktrees
}

func (c *CLI) Diff(ctx context.Context, repoRoot string) (string, error) {
	return run(ctx, repoRoot, "diff", "--no-color", "HEAD")
}

func (c *CLI) DiffFile(ctx context.Context, repoRoot, path string) (string, error) {
	return run(ctx, repoRoot, "diff", "--no-color", "HEAD", "--", path)
}

func (c *CLI) Commits(ctx context.Context, repoRoot string, limit int) ([]CommitInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := run(ctx, repoRoot, "log", "-n", strconv.Itoa(limit), "--pretty=format:%H%x1f%an%x1f%at%x1f%s")
	if err != nil {
		return nil, err
	}
	var commits []CommitInfo
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, CommitInfo{
			Hash:    parts[0],
			Author:  parts[1],
			At:      parseUnix(parts[2]),
			Subject: parts[3],
		})
	}
	return commits, nil
}

func (c *CLI) Commit(ctx context.Context, repoRoot, hash string) (CommitInfo, error) {
	out, err := run(ctx, repoRoot, "log", "-n", "1", "--pretty=format:%H%x1f%an%x1f%at%x1f%s", hash)
	if err != nil {
		return CommitInfo{}, err
	}
	parts := strings.SplitN(strings.TrimSpace(out), "\x1f", 4)
	if len(parts) != 4 {
		return CommitInfo{}, errors.New("unexpected git log output")
	}
	return CommitInfo{Hash: parts[0], Author: parts[1], At: parseUnix(parts[2]), Subject: parts[3]}, nil
}

func (c *CLI) CommitFile(ctx context.Context, repoRoot, hash, path string) (string, error) {
	return run(ctx, repoRoot, "show", hash+":"+path)
}

// AddWorktree creates a worktree at path. An empty branch lets git pick the
// checked-out HEAD; a named branch is created when it does not exist yet.
func (c *CLI) AddWorktree(ctx context.Context, repoRoot, path, branch string) (err error) {
	if branch == "" {
		_, err = run(ctx, repoRoot, "worktree", "add", path)
		return err
	}
	if _, err = run(ctx, repoRoot, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		_, err = run(ctx, repoRoot, "worktree", "add", path, branch)
		return err
	}
	_, err = run(ctx, repoRoot, "worktree", "add", "-b", branch, path)
	return err
}

// RemoveWorktree removes the worktree at path.
func (c *CLI) RemoveWorktree(ctx context.Context, repoRoot, path string) error {
	_, err := run(ctx, repoRoot, "worktree", "remove", "--force", path)
	return err
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
