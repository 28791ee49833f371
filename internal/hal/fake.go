package hal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sothis/remote-agent/internal/errs"
)

// FakeKeylogger emits a scripted sequence of events, then blocks until Stop
// or the context is cancelled.
type FakeKeylogger struct {
	Events []string

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

func NewFakeKeylogger(events ...string) *FakeKeylogger {
	return &FakeKeylogger{Events: events, stopCh: make(chan struct{})}
}

func (f *FakeKeylogger) Start(ctx context.Context) (<-chan string, error) {
	out := make(chan string, len(f.Events))
	for _, e := range f.Events {
		out <- e
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		}
		close(out)
	}()
	return out, nil
}

func (f *FakeKeylogger) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.stopCh)
	}
}

// FakeInputInjector records every call it receives for assertion in tests.
type FakeInputInjector struct {
	mu    sync.Mutex
	Moves [][2]float64
	Downs []MouseButton
	Ups   []MouseButton
}

func (f *FakeInputInjector) MouseMove(x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Moves = append(f.Moves, [2]float64{x, y})
	return nil
}

func (f *FakeInputInjector) MouseDown(button MouseButton) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downs = append(f.Downs, button)
	return nil
}

func (f *FakeInputInjector) MouseUp(button MouseButton) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ups = append(f.Ups, button)
	return nil
}

// FakeAppLister serves a fixed app catalog and records launches.
type FakeAppLister struct {
	Apps     []AppInfo
	nextPID  int
	Launched []string
}

func NewFakeAppLister(apps ...AppInfo) *FakeAppLister {
	return &FakeAppLister{Apps: apps, nextPID: 1000}
}

func (f *FakeAppLister) ListApps() ([]AppInfo, error) { return f.Apps, nil }

func (f *FakeAppLister) SearchApps(query string) ([]AppInfo, error) {
	var out []AppInfo
	for _, a := range f.Apps {
		if containsFold(a.Name, query) || containsFold(a.Keywords, query) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeAppLister) LaunchApp(command string) (int, error) {
	if command == "" {
		return 0, errs.NewDeviceNotFoundError("launch_app", "empty command")
	}
	f.nextPID++
	f.Launched = append(f.Launched, command)
	return f.nextPID, nil
}

// FakeProcessLister serves a fixed, mutable process table.
type FakeProcessLister struct {
	mu    sync.Mutex
	Procs map[int]ProcessInfo
}

func NewFakeProcessLister(procs ...ProcessInfo) *FakeProcessLister {
	m := make(map[int]ProcessInfo, len(procs))
	for _, p := range procs {
		m[p.PID] = p
	}
	return &FakeProcessLister{Procs: m}
}

func (f *FakeProcessLister) ListProcesses() ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProcessInfo, 0, len(f.Procs))
	for _, p := range f.Procs {
		out = append(out, p)
	}
	return out, nil
}

func (f *FakeProcessLister) KillProcess(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Procs[pid]; !ok {
		return errs.NewDeviceNotFoundError("kill_process", fmt.Sprintf("pid %d", pid))
	}
	delete(f.Procs, pid)
	return nil
}

// FakePowerController records requested power actions instead of acting on
// the host.
type FakePowerController struct {
	mu               sync.Mutex
	ShutdownCalled   bool
	RestartRequested bool
}

func (f *FakePowerController) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ShutdownCalled = true
	return nil
}

func (f *FakePowerController) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestartRequested = true
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
