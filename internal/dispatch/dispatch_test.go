package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/muxbackend"
	"github.com/yuki-yano/vde-monitor/internal/progdetector"
	"github.com/yuki-yano/vde-monitor/internal/ratelimit"
)

type fakeBackend struct {
	sendTextCalls atomic.Int64
	launchCalls   atomic.Int64
	sendTextErr   error
	launchErr     error
	block         chan struct{}
}

func (f *fakeBackend) ListPanes(context.Context) ([]model.PaneMeta, error) { return nil, nil }
func (f *fakeBackend) ReadUserOption(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeBackend) SendText(context.Context, string, string, bool) error {
	if f.block != nil {
		<-f.block
	}
	f.sendTextCalls.Add(1)
	return f.sendTextErr
}

func (f *fakeBackend) SendKeys(context.Context, string, []string) error { return nil }
func (f *fakeBackend) SendRaw(context.Context, string, []string) error  { return nil }
func (f *fakeBackend) FocusPane(context.Context, string) error          { return nil }
func (f *fakeBackend) KillPane(context.Context, string) error           { return nil }
func (f *fakeBackend) KillWindow(context.Context, string) error         { return nil }

func (f *fakeBackend) LaunchAgentInSession(context.Context, muxbackend.LaunchRequest) (string, error) {
	f.launchCalls.Add(1)
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return "%9", nil
}

func (f *fakeBackend) CaptureText(context.Context, string, int) (muxbackend.CaptureResult, error) {
	return muxbackend.CaptureResult{}, nil
}
func (f *fakeBackend) CapturePipe(context.Context, string) (string, error) { return "", nil }
func (f *fakeBackend) AttachPipe(context.Context, string, string) error    { return nil }

type fakeRecorder struct {
	mu    sync.Mutex
	panes []string
}

func (f *fakeRecorder) RecordInput(paneID string, _ time.Time) {
	f.mu.Lock()
	f.panes = append(f.panes, paneID)
	f.mu.Unlock()
}

func testRegistry(t *testing.T) *progdetector.Registry {
	t.Helper()
	r := progdetector.NewRegistry()
	if err := r.Register(stubDetector{id: "codex"}); err != nil {
		t.Fatal(err)
	}
	return r
}

type stubDetector struct{ id string }

func (s stubDetector) ProgramID() string                          { return s.id }
func (s stubDetector) IsAvailable(context.Context) (bool, error)  { return true, nil }
func (s stubDetector) MatchCurrentCommand(string) bool            { return false }
func (s stubDetector) LaunchCommand(opts progdetector.LaunchOptions) []string {
	return append([]string{s.id}, opts.ExtraArgs...)
}

func TestExecuteCommandRateLimit(t *testing.T) {
	backend := &fakeBackend{}
	send := ratelimit.New(1000, 1)
	raw := ratelimit.New(1000, 1)
	d := NewDispatcher(backend, send, raw, nil, false, nil)

	if res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeSendText, PaneID: "%1", Text: "ls"}); !res.OK {
		t.Fatalf("first send failed: %+v", res)
	}
	res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeSendText, PaneID: "%1", Text: "ls"})
	if res.OK || res.Error.Code != CodeRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %+v", res)
	}
	// Raw sends consume a separate limiter.
	if res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeSendRaw, PaneID: "%1", Items: []string{"x"}}); !res.OK {
		t.Fatalf("raw send should use rawLimiter: %+v", res)
	}
}

func TestExecuteCommandReadOnly(t *testing.T) {
	d := NewDispatcher(&fakeBackend{}, ratelimit.New(1000, 10), ratelimit.New(1000, 10), nil, true, nil)
	res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeSendText, PaneID: "%1"})
	if res.OK || res.Error.Code != CodeReadOnly {
		t.Fatalf("expected READ_ONLY, got %+v", res)
	}
}

func TestExecuteCommandUnknownType(t *testing.T) {
	d := NewDispatcher(&fakeBackend{}, ratelimit.New(1000, 10), ratelimit.New(1000, 10), nil, false, nil)
	res := d.ExecuteCommand(context.Background(), "k", Payload{Type: "bogus"})
	if res.OK || res.Error.Code != CodeInvalidPayload {
		t.Fatalf("expected INVALID_PAYLOAD, got %+v", res)
	}
}

func TestExecuteCommandRecordsInput(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(&fakeBackend{}, ratelimit.New(1000, 10), ratelimit.New(1000, 10), rec, false, nil)
	if res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeSendKeys, PaneID: "%1", Keys: []string{"Enter"}}); !res.OK {
		t.Fatalf("send keys failed: %+v", res)
	}
	if res := d.ExecuteCommand(context.Background(), "k", Payload{Type: TypeFocus, PaneID: "%1"}); !res.OK {
		t.Fatalf("focus failed: %+v", res)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.panes) != 1 || rec.panes[0] != "%1" {
		t.Fatalf("expected input recorded only for input commands, got %v", rec.panes)
	}
}

func TestSendTextIdempotencyConcurrentRetries(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{})}
	d := NewDispatcher(backend, ratelimit.New(1000, 100), ratelimit.New(1000, 100), nil, false, nil)
	e := NewSendTextExecutor(d, 30*time.Second)

	var wg sync.WaitGroup
	results := make([]CommandResponse, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Execute(context.Background(), "k", "%1", "ls", true, "r1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(backend.block)
	wg.Wait()

	if calls := backend.sendTextCalls.Load(); calls != 1 {
		t.Fatalf("expected one sendText invocation, got %d", calls)
	}
	for i, res := range results {
		if !res.OK {
			t.Fatalf("result %d not ok: %+v", i, res)
		}
	}

	// Same requestId, different payload: mismatch.
	res := e.Execute(context.Background(), "k", "%1", "pwd", true, "r1")
	if res.OK || res.Error.Code != CodeInvalidPayload || res.Error.Message != "requestId payload mismatch" {
		t.Fatalf("expected payload mismatch error, got %+v", res)
	}
}

func TestSendTextIdempotencyRetriesAfterFailure(t *testing.T) {
	backend := &fakeBackend{sendTextErr: errors.New("tmux gone")}
	d := NewDispatcher(backend, ratelimit.New(1000, 100), ratelimit.New(1000, 100), nil, false, nil)
	e := NewSendTextExecutor(d, 30*time.Second)

	if res := e.Execute(context.Background(), "k", "%1", "ls", true, "r1"); res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	backend.sendTextErr = nil
	if res := e.Execute(context.Background(), "k", "%1", "ls", true, "r1"); !res.OK {
		t.Fatalf("expected retry to execute and succeed, got %+v", res)
	}
	if calls := backend.sendTextCalls.Load(); calls != 2 {
		t.Fatalf("expected two sendText invocations, got %d", calls)
	}
}

func TestLaunchIdempotencyBeatsRateLimit(t *testing.T) {
	backend := &fakeBackend{}
	limiter := ratelimit.New(1000, 1)
	e := NewLaunchExecutor(backend, limiter, testRegistry(t), nil, false, 0, 0, nil)

	req := LaunchRequest{SessionName: "dev", Agent: "codex", RequestID: "L1"}
	first := e.Execute(context.Background(), "k", req)
	if !first.OK || first.PaneID != "%9" {
		t.Fatalf("first launch failed: %+v", first)
	}

	// Limiter is now exhausted; the retry must replay from cache without
	// consuming budget.
	second := e.Execute(context.Background(), "k", req)
	if !second.OK || second.PaneID != "%9" {
		t.Fatalf("expected cached replay, got %+v", second)
	}
	if calls := backend.launchCalls.Load(); calls != 1 {
		t.Fatalf("expected one launch invocation, got %d", calls)
	}

	// A fresh requestId hits the exhausted limiter.
	third := e.Execute(context.Background(), "k", LaunchRequest{SessionName: "dev", Agent: "codex", RequestID: "L2"})
	if third.OK || third.Error.Code != CodeRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %+v", third)
	}
	if third.Rollback.Attempted || !third.Rollback.OK {
		t.Fatalf("unexpected rollback info: %+v", third.Rollback)
	}
}

func TestLaunchRejectsUnknownAgent(t *testing.T) {
	e := NewLaunchExecutor(&fakeBackend{}, ratelimit.New(1000, 10), testRegistry(t), nil, false, 0, 0, nil)
	res := e.Execute(context.Background(), "k", LaunchRequest{SessionName: "dev", Agent: "nope"})
	if res.OK || res.Error.Code != CodeInvalidPayload {
		t.Fatalf("expected INVALID_PAYLOAD, got %+v", res)
	}
}
