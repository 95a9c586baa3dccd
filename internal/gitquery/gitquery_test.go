package gitquery

import "testing"

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\nHEAD abc123\nbranch refs/heads/main\n\n" +
		"worktree /repo-wt\nHEAD def456\nbranch refs/heads/feature/x\n\n" +
		"worktree /repo-detached\nHEAD 789abc\ndetached\n"

	worktrees := parseWorktreeList(out)
	if len(worktrees) != 3 {
		t.Fatalf("expected 3 worktrees, got %d: %+v", len(worktrees), worktrees)
	}
	if !worktrees[0].IsMain || worktrees[0].Path != "/repo" || worktrees[0].Branch != "main" {
		t.Fatalf("unexpected main worktree: %+v", worktrees[0])
	}
	if worktrees[1].IsMain || worktrees[1].Branch != "feature/x" {
		t.Fatalf("unexpected linked worktree: %+v", worktrees[1])
	}
	if !worktrees[2].HeadOnly {
		t.Fatalf("expected detached worktree flagged: %+v", worktrees[2])
	}
}

func TestParseUnix(t *testing.T) {
	if got := parseUnix("1722500000"); got.Unix() != 1722500000 {
		t.Fatalf("unexpected time: %v", got)
	}
	if !parseUnix("not-a-number").IsZero() {
		t.Fatal("expected zero time for invalid input")
	}
}
