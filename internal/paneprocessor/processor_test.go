package paneprocessor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/agentresolver"
	"github.com/yuki-yano/vde-monitor/internal/gitquery"
	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/paneruntime"
	"github.com/yuki-yano/vde-monitor/internal/pipemanager"
)

type fakeClassifier struct {
	agent   model.Agent
	ignored bool
}

func (f fakeClassifier) Resolve(context.Context, model.PaneMeta) agentresolver.Result {
	return agentresolver.Result{Agent: f.agent, Ignored: f.ignored}
}

type fakePipes struct {
	status pipemanager.Status
}

func (f fakePipes) PaneLogPath(paneID string) string { return "/tmp/logs/" + paneID + ".log" }
func (f fakePipes) Tag() string                      { return "tag" }
func (f fakePipes) EnsurePipe(context.Context, string, bool, string, bool) (pipemanager.Status, error) {
	return f.status, nil
}

type fakeScreens struct {
	screen string
	calls  int
}

func (f *fakeScreens) CaptureText(context.Context, string, int) (muxbackend.CaptureResult, error) {
	f.calls++
	return muxbackend.CaptureResult{Screen: f.screen}, nil
}

type fakeOptions struct{ tag string }

func (f fakeOptions) ReadUserOption(context.Context, string, string) (string, error) {
	return f.tag, nil
}

type fakeRepos struct {
	root   string
	branch string
}

func (f fakeRepos) RepoRoot(context.Context, string) (string, error) {
	if f.root == "" {
		return "", gitquery.ErrNotAGitRepo
	}
	return f.root, nil
}
func (f fakeRepos) CurrentBranch(context.Context, string) (string, error) { return f.branch, nil }
func (f fakeRepos) Worktrees(context.Context, string) ([]gitquery.WorktreeInfo, error) {
	return nil, nil
}

func newTestProcessor(classifier Classifier, pipes Pipes, screens Screens) *Processor {
	return New(classifier, pipes, screens, fakeOptions{}, fakeRepos{root: "/repo", branch: "main"}, nil,
		paneruntime.New(), NewViewedTracker(0), Options{}, nil)
}

func agentMeta(paneID string) model.PaneMeta {
	return model.PaneMeta{PaneID: paneID, SessionName: "dev", CurrentCommand: "codex", CurrentPath: "/repo"}
}

func TestProcessIgnoredPane(t *testing.T) {
	p := newTestProcessor(fakeClassifier{ignored: true}, fakePipes{}, &fakeScreens{})
	detail, err := p.Process(context.Background(), agentMeta("%1"))
	if err != nil || detail != nil {
		t.Fatalf("expected nil detail for ignored pane, got %+v err=%v", detail, err)
	}
}

func TestProcessShellPane(t *testing.T) {
	p := newTestProcessor(fakeClassifier{agent: model.AgentUnknown}, fakePipes{}, &fakeScreens{})
	meta := model.PaneMeta{PaneID: "%1", SessionName: "dev", CurrentCommand: "zsh"}
	detail, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if detail.State != model.StateShell || detail.StateReason != "shell" {
		t.Fatalf("unexpected state: %s/%s", detail.State, detail.StateReason)
	}
	if detail.PipeAttached || detail.PipeConflict {
		t.Fatalf("non-agent pane must not attach pipes: %+v", detail)
	}
}

func TestProcessAgentPaneRunningOnRecentOutput(t *testing.T) {
	p := newTestProcessor(fakeClassifier{agent: model.AgentCodex},
		fakePipes{status: pipemanager.Status{LogPath: "/none", Attached: true}}, &fakeScreens{screen: "out"})
	now := time.Now()
	meta := agentMeta("%1")
	activity := now.Add(-time.Second)
	meta.PaneActivity = &activity

	detail, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if detail.State != model.StateRunning {
		t.Fatalf("expected RUNNING, got %s/%s", detail.State, detail.StateReason)
	}
	if detail.Agent != model.AgentCodex || !detail.PipeAttached {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.RepoRoot != "/repo" || detail.Branch != "main" {
		t.Fatalf("expected repo resolution, got %q %q", detail.RepoRoot, detail.Branch)
	}
}

func TestProcessAgentPaneWaitingAfterInactivity(t *testing.T) {
	p := newTestProcessor(fakeClassifier{agent: model.AgentCodex},
		fakePipes{status: pipemanager.Status{LogPath: "/none"}}, &fakeScreens{screen: "out"})
	meta := agentMeta("%1")
	activity := time.Now().Add(-time.Minute)
	meta.PaneActivity = &activity

	detail, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if detail.State != model.StateWaitingInput || detail.StateReason != "idle" {
		t.Fatalf("expected WAITING_INPUT/idle, got %s/%s", detail.State, detail.StateReason)
	}
}

func TestProcessHonorsWaitingHookState(t *testing.T) {
	runtime := paneruntime.New()
	p := New(fakeClassifier{agent: model.AgentClaude}, fakePipes{status: pipemanager.Status{LogPath: "/none"}},
		&fakeScreens{screen: "out"}, fakeOptions{}, fakeRepos{}, nil, runtime, NewViewedTracker(0), Options{}, nil)
	runtime.SetHookState("%1", model.StateWaitingPermission, "permission_request", time.Now())

	meta := agentMeta("%1")
	activity := time.Now()
	meta.PaneActivity = &activity

	detail, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if detail.State != model.StateWaitingPermission || detail.StateReason != "hook:permission_request" {
		t.Fatalf("expected hook state honored, got %s/%s", detail.State, detail.StateReason)
	}
}

func TestProcessRestoredSnapshotUsedOnce(t *testing.T) {
	p := newTestProcessor(fakeClassifier{agent: model.AgentCodex},
		fakePipes{status: pipemanager.Status{LogPath: "/none"}}, &fakeScreens{screen: "out"})
	restored := model.SessionDetail{State: model.StateWaitingPermission}
	restored.PaneID = "%1"
	p.SetRestored(map[string]model.SessionDetail{"%1": restored})

	meta := agentMeta("%1")
	first, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if first.State != model.StateWaitingPermission || first.StateReason != "restored" {
		t.Fatalf("expected restored state, got %s/%s", first.State, first.StateReason)
	}

	second, err := p.Process(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if second.StateReason == "restored" {
		t.Fatal("restored snapshot must be consumed once")
	}
}

func TestFingerprintThrottle(t *testing.T) {
	screens := &fakeScreens{screen: "out"}
	p := newTestProcessor(fakeClassifier{agent: model.AgentCodex},
		fakePipes{status: pipemanager.Status{LogPath: "/none"}}, screens)

	meta := agentMeta("%1")
	for i := 0; i < 3; i++ {
		if _, err := p.Process(context.Background(), meta); err != nil {
			t.Fatal(err)
		}
	}
	if screens.calls != 1 {
		t.Fatalf("expected one capture within the interval, got %d", screens.calls)
	}
}

func TestFingerprintSkippedForUnviewedNonAgentPane(t *testing.T) {
	screens := &fakeScreens{screen: "out"}
	p := newTestProcessor(fakeClassifier{agent: model.AgentUnknown}, fakePipes{}, screens)
	meta := model.PaneMeta{PaneID: "%1", CurrentCommand: "zsh"}

	if _, err := p.Process(context.Background(), meta); err != nil {
		t.Fatal(err)
	}
	if screens.calls != 0 {
		t.Fatalf("expected no capture for unviewed shell pane, got %d", screens.calls)
	}

	p.viewed.MarkViewed("%1")
	if _, err := p.Process(context.Background(), meta); err != nil {
		t.Fatal(err)
	}
	if screens.calls != 1 {
		t.Fatalf("expected capture after viewing, got %d", screens.calls)
	}
}

func TestExternalInputDetection(t *testing.T) {
	dir := t.TempDir()
	logPath := dir + "/pane.log"
	if err := os.WriteFile(logPath, []byte("agent output\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	runtime := paneruntime.New()
	p := New(fakeClassifier{agent: model.AgentCodex}, fakePipes{status: pipemanager.Status{LogPath: logPath}},
		&fakeScreens{screen: "out"}, fakeOptions{}, fakeRepos{}, nil, runtime, NewViewedTracker(0), Options{}, nil)

	meta := agentMeta("%1")
	if _, err := p.Process(context.Background(), meta); err != nil {
		t.Fatal(err)
	}
	rt, _ := runtime.Peek("%1")
	if rt.LastInputAt != nil {
		t.Fatal("no input expected from plain output")
	}

	// Typed input echoed with a carriage return.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("ls -la\r"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := p.Process(context.Background(), meta); err != nil {
		t.Fatal(err)
	}
	rt, _ = runtime.Peek("%1")
	if rt.LastInputAt == nil {
		t.Fatal("expected external input detected")
	}
	if rt.ExternalInputCursorBytes == 0 {
		t.Fatal("expected cursor advanced")
	}
}

func TestHandleHookLine(t *testing.T) {
	runtime := paneruntime.New()
	p := New(fakeClassifier{agent: model.AgentClaude}, fakePipes{}, &fakeScreens{}, fakeOptions{},
		fakeRepos{}, nil, runtime, NewViewedTracker(0), Options{}, nil)

	p.HandleHookLine([]byte(`{"event":"permission_request","paneId":"%1","sessionId":"s-9","message":"Allow?"}`))
	rt, ok := runtime.Peek("%1")
	if !ok || rt.HookState == nil || rt.HookState.State != model.StateWaitingPermission {
		t.Fatalf("unexpected runtime state: %+v", rt)
	}
	if rt.AgentSessionID != "s-9" || rt.LastMessage != "Allow?" {
		t.Fatalf("unexpected metadata: %+v", rt)
	}

	p.HandleHookLine([]byte(`{"event":"user_prompt_submit","paneId":"%1"}`))
	rt, _ = runtime.Peek("%1")
	if rt.HookState != nil {
		t.Fatal("prompt submit must clear hook state")
	}
	if rt.LastInputAt == nil {
		t.Fatal("prompt submit must record input")
	}

	// Garbage is ignored.
	p.HandleHookLine([]byte(`nonsense`))
}
