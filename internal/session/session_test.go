package session

import (
	"testing"
	"time"

	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/streamer"
	"github.com/sothis/remote-agent/internal/video"
)

func waitForState(t *testing.T, ss *StreamSession, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ss.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last was %s", want, ss.State())
}

func TestStartRunStop(t *testing.T) {
	fs := &FakeLongRunningStreamer{}
	b := bus.New(nil)
	ss := New(fs, b, nil)

	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ss.State() != Running {
		t.Fatalf("expected Running immediately after Start, got %s", ss.State())
	}

	ss.Stop()
	if ss.State() != Stopped {
		t.Fatalf("expected Stopped after Stop, got %s", ss.State())
	}
}

func TestStartWhileRunningIsBusy(t *testing.T) {
	fs := &FakeLongRunningStreamer{}
	b := bus.New(nil)
	ss := New(fs, b, nil)
	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ss.Stop()

	err := ss.Start()
	if errs.Kind(err) != "busy" {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fs := &FakeLongRunningStreamer{}
	b := bus.New(nil)
	ss := New(fs, b, nil)
	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ss.Stop()
	ss.Stop() // must not block or panic
	if ss.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", ss.State())
	}
}

func TestWorkerErrorMarksFailed(t *testing.T) {
	fs := &streamer.FakeStreamer{Err: errs.NewEncoderError("boom", nil)}
	b := bus.New(nil)
	ss := New(fs, b, nil)
	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, ss, Failed)
}

func TestRestartAfterStop(t *testing.T) {
	fs := &FakeLongRunningStreamer{}
	b := bus.New(nil)
	ss := New(fs, b, nil)

	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ss.Stop()

	if err := ss.Start(); err != nil {
		t.Fatalf("restart Start: %v", err)
	}
	if ss.State() != Running {
		t.Fatalf("expected Running after restart, got %s", ss.State())
	}
	ss.Stop()
}

func TestPacketsReachBus(t *testing.T) {
	fs := &streamer.FakeStreamer{Packets: []video.Packet{{PTS: 1}}}
	b := bus.New(nil)
	sub := bus.NewQueueSubscriber(nil)
	b.Subscribe(sub)

	ss := New(fs, b, nil)
	if err := ss.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ss.Stop()

	pkt, ok := sub.Next()
	if !ok {
		t.Fatalf("expected a packet delivered to subscriber")
	}
	if pkt.PTS != 1 {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
}

// FakeLongRunningStreamer blocks until cancelled without emitting packets,
// for tests only concerned with the start/stop state machine.
type FakeLongRunningStreamer struct{}

func (FakeLongRunningStreamer) Stream(onPacket func(video.Packet), token cancel.Token) error {
	<-token.Done()
	return nil
}
