package agent

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sothis/remote-agent/internal/hal"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(backendID uint32, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(payload))
	return nil
}

func (f *fakeSender) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestPingReturnsInfoLine(t *testing.T) {
	d := NewDispatcher(nil)
	resp := d.Handle("ping", nil, 1)
	if len(resp) != 1 || resp[0] != "INFO:NAME=CoreAgent" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestGetStateReportsAllSubsystemsInactive(t *testing.T) {
	d := NewDispatcher(nil)
	resp := d.Handle("get_state", nil, 1)
	joined := strings.Join(resp, "\n")
	for _, want := range []string{"monitor_stream=inactive", "webcam_stream=inactive", "keylogger=inactive", "STATUS:SYNC:complete"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in response, got %v", want, resp)
		}
	}
}

func TestListAppsFormatsPipeDelimited(t *testing.T) {
	d := NewDispatcher(nil)
	d.Apps = hal.NewFakeAppLister(hal.AppInfo{ID: "1", Name: "Calc", Icon: "calc.png", Exec: "/bin/calc", Keywords: "math"})
	resp := d.Handle("list_apps", nil, 1)
	if len(resp) != 1 || resp[0] != "DATA:APPS:1|Calc|calc.png|/bin/calc|math" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestSearchAppsUsesQuery(t *testing.T) {
	d := NewDispatcher(nil)
	d.Apps = hal.NewFakeAppLister(
		hal.AppInfo{ID: "1", Name: "Calculator", Keywords: "math"},
		hal.AppInfo{ID: "2", Name: "Browser", Keywords: "web"},
	)
	resp := d.Handle("search_apps math", nil, 1)
	if !strings.Contains(resp[0], "Calculator") || strings.Contains(resp[0], "Browser") {
		t.Fatalf("expected only Calculator matched, got %v", resp)
	}
}

func TestLaunchAppReturnsPID(t *testing.T) {
	d := NewDispatcher(nil)
	d.Apps = hal.NewFakeAppLister()
	resp := d.Handle("launch_app /usr/bin/xterm -e bash", nil, 1)
	if !strings.HasPrefix(resp[0], "STATUS:APP_LAUNCHED:") {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestKillProcessRemovesEntry(t *testing.T) {
	d := NewDispatcher(nil)
	d.Processes = hal.NewFakeProcessLister(hal.ProcessInfo{PID: 42, Name: "x", State: "Running"})
	resp := d.Handle("kill_process 42", nil, 1)
	if resp[0] != "STATUS:PROCESS_KILLED" {
		t.Fatalf("unexpected response: %v", resp)
	}
	resp2 := d.Handle("kill_process 42", nil, 1)
	if !strings.HasPrefix(resp2[0], "ERROR:KillProcess") {
		t.Fatalf("expected error killing already-dead pid, got %v", resp2)
	}
}

func TestMouseMoveInvokesInjector(t *testing.T) {
	d := NewDispatcher(nil)
	inj := &hal.FakeInputInjector{}
	d.Input = inj
	d.Handle("mouse_move 0.5 0.75", nil, 1)
	if len(inj.Moves) != 1 || inj.Moves[0][0] != 0.5 || inj.Moves[0][1] != 0.75 {
		t.Fatalf("unexpected moves: %v", inj.Moves)
	}
}

func TestMouseClickSleepsBetweenDownAndUp(t *testing.T) {
	d := NewDispatcher(nil)
	inj := &hal.FakeInputInjector{}
	d.Input = inj
	start := time.Now()
	d.Handle("mouse_click 0", nil, 1)
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected mouse_click to pace down/up by ~20ms")
	}
	if len(inj.Downs) != 1 || len(inj.Ups) != 1 {
		t.Fatalf("expected exactly one down and one up, got %v %v", inj.Downs, inj.Ups)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	d := NewDispatcher(nil)
	resp := d.Handle("frobnicate", nil, 1)
	if !strings.HasPrefix(resp[0], "ERROR:UnknownCommand") {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestStartStopKeylogEmitsTaggedEvents(t *testing.T) {
	d := NewDispatcher(nil)
	d.KeyloggerFactory = func() hal.Keylogger { return hal.NewFakeKeylogger("a", "b") }
	sender := &fakeSender{}

	resp := d.Handle("start_keylog", sender, 7)
	if resp[0] != "STATUS:KEYLOGGER:STARTED" {
		t.Fatalf("unexpected response: %v", resp)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sender.snapshot()) < 2 {
		time.Sleep(time.Millisecond)
	}
	got := sender.snapshot()
	if len(got) != 2 || got[0][0] != byte(TagText) || !strings.Contains(got[0], "KEYLOG: a") {
		t.Fatalf("unexpected tagged events: %v", got)
	}

	stopResp := d.Handle("stop_keylog", sender, 7)
	if stopResp[0] != "STATUS:KEYLOGGER:STOPPED" {
		t.Fatalf("unexpected stop response: %v", stopResp)
	}
}

func TestShutdownInvokesPowerController(t *testing.T) {
	d := NewDispatcher(nil)
	pc := &hal.FakePowerController{}
	d.Power = pc
	resp := d.Handle("shutdown", nil, 1)
	if resp[0] != "INFO:SHUTDOWN" {
		t.Fatalf("unexpected response: %v", resp)
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && !pc.ShutdownCalled {
		time.Sleep(time.Millisecond)
	}
	if !pc.ShutdownCalled {
		t.Fatalf("expected Shutdown to be invoked asynchronously")
	}
}
