package codex

import (
	"testing"

	"github.com/yuki-yano/vde-monitor/internal/progdetector"
)

func TestDetectorMatchCurrentCommand(t *testing.T) {
	d := New()
	for _, cmd := range []string{"codex", "codex --ask", "/usr/local/bin/codex resume"} {
		if !d.MatchCurrentCommand(cmd) {
			t.Fatalf("expected %q matched", cmd)
		}
	}
	for _, cmd := range []string{"zsh", "vim notes.md", ""} {
		if d.MatchCurrentCommand(cmd) {
			t.Fatalf("expected %q not matched", cmd)
		}
	}
}

func TestDetectorLaunchCommand(t *testing.T) {
	d := New()
	got := d.LaunchCommand(progdetector.LaunchOptions{ExtraArgs: []string{"--full-auto"}})
	if len(got) != 2 || got[0] != "codex" || got[1] != "--full-auto" {
		t.Fatalf("unexpected launch command: %v", got)
	}
}
