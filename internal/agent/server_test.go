package agent

import (
	"net"
	"testing"
	"time"

	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/framing"
	"github.com/sothis/remote-agent/internal/session"
	"github.com/sothis/remote-agent/internal/streamer"
	"github.com/sothis/remote-agent/internal/video"
)

func startTestServer(t *testing.T, d *Dispatcher) (*Server, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(l, d, nil)
	go s.Serve()
	t.Cleanup(func() { s.Close() })

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func sendCommand(t *testing.T, conn net.Conn, backendID uint32, cmd string) {
	t.Helper()
	if err := framing.WriteFrame(conn, framing.Header{BackendID: backendID}, []byte(cmd)); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return string(frame.Payload)
}

func TestServerRoundTripsPing(t *testing.T) {
	d := NewDispatcher(nil)
	_, conn := startTestServer(t, d)

	sendCommand(t, conn, 3, "ping")
	resp := readResponse(t, conn)
	if resp[0] != byte(TagText) {
		t.Fatalf("expected text tag prefix, got %v", resp[0])
	}
	if resp[1:] != "INFO:NAME=CoreAgent" {
		t.Fatalf("unexpected response body: %q", resp[1:])
	}
}

func TestServerEchoesBackendIDFallback(t *testing.T) {
	d := NewDispatcher(nil)
	_, conn := startTestServer(t, d)

	if err := framing.WriteFrame(conn, framing.Header{BackendID: 0}, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Header.BackendID != 1 {
		t.Fatalf("expected backend_id fallback to 1, got %d", frame.Header.BackendID)
	}
}

func TestServerMonitorStreamDeliversTaggedVideo(t *testing.T) {
	b := bus.New(nil)
	fake := &streamer.FakeStreamer{Packets: []video.Packet{
		video.NewPacket([]byte{0, 0, 0, 1, 0x67, 0xAA}, 1, 1),
	}}
	sess := session.New(fake, b, nil)

	d := NewDispatcher(nil)
	d.MonitorSession = sess
	d.MonitorBus = b
	_, conn := startTestServer(t, d)

	sendCommand(t, conn, 1, "start_monitor_stream")

	// The status response and the first cached video packet race against
	// each other on independent goroutines (the session worker vs. this
	// command's synchronous reply); accept either arrival order.
	var sawStarted, sawVideo bool
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		frame, err := framing.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		body := string(frame.Payload)
		switch {
		case body[1:] == "STATUS:MONITOR_STREAM:STARTED":
			sawStarted = true
		case frame.Payload[0] == byte(TagMonitor):
			sawVideo = true
		default:
			t.Fatalf("unexpected frame: %q", body)
		}
	}
	if !sawStarted || !sawVideo {
		t.Fatalf("expected both STARTED status and tagged video frame, got started=%v video=%v", sawStarted, sawVideo)
	}

	sendCommand(t, conn, 1, "stop_monitor_stream")
	stopResp := readResponse(t, conn)
	if stopResp[1:] != "STATUS:MONITOR_STREAM:STOPPED" {
		t.Fatalf("unexpected stop response: %q", stopResp[1:])
	}
}
