package progdetector

import (
	"context"
	"testing"
)

type fakeDetector struct {
	id      string
	matcher func(string) bool
}

func (f fakeDetector) ProgramID() string { return f.id }

func (f fakeDetector) IsAvailable(context.Context) (bool, error) { return true, nil }

func (f fakeDetector) MatchCurrentCommand(currentCommand string) bool {
	if f.matcher == nil {
		return false
	}
	return f.matcher(currentCommand)
}

func (f fakeDetector) LaunchCommand(opts LaunchOptions) []string {
	return append([]string{f.id}, opts.ExtraArgs...)
}

func TestRegistryRegisterGetDetect(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fakeDetector{
		id: "codex",
		matcher: func(cmd string) bool {
			return cmd == "codex"
		},
	}); err != nil {
		t.Fatalf("register codex failed: %v", err)
	}
	if err := r.Register(fakeDetector{
		id: "claude",
		matcher: func(cmd string) bool {
			return cmd == "claude"
		},
	}); err != nil {
		t.Fatalf("register claude failed: %v", err)
	}

	got, ok := r.Get("codex")
	if !ok || got.ProgramID() != "codex" {
		t.Fatalf("get codex failed: ok=%v", ok)
	}

	matched, ok := r.DetectByCurrentCommand("claude")
	if !ok || matched.ProgramID() != "claude" {
		t.Fatalf("detect claude failed: ok=%v", ok)
	}
}

func TestRegistryRejectsDuplicateProgramID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fakeDetector{id: "codex"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(fakeDetector{id: "codex"}); err == nil {
		t.Fatal("expected duplicate id register error")
	}
}

func TestMatchProgramInCommand(t *testing.T) {
	cases := []struct {
		cmd  string
		name string
		want bool
	}{
		{"codex --ask", "codex", true},
		{"/opt/homebrew/bin/claude", "claude", true},
		{"node (codex)", "codex", true},
		{"zsh", "codex", false},
		{"", "codex", false},
		{"codex", "", false},
	}
	for _, tc := range cases {
		if got := MatchProgramInCommand(tc.cmd, tc.name); got != tc.want {
			t.Fatalf("MatchProgramInCommand(%q, %q) = %v, want %v", tc.cmd, tc.name, got, tc.want)
		}
	}
}
