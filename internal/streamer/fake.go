package streamer

import (
	"time"

	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/video"
)

// FakeStreamer emits a fixed sequence of packets at a configurable pace,
// for tests that exercise StreamSession without spawning a subprocess.
type FakeStreamer struct {
	Packets []video.Packet
	Pace    time.Duration // delay between packets; zero sends as fast as possible
	Err     error         // returned after emitting Packets, if set
}

// Stream emits Packets in order, then blocks until token is cancelled (or
// returns immediately if Err is set).
func (f *FakeStreamer) Stream(onPacket func(video.Packet), token cancel.Token) error {
	for _, pkt := range f.Packets {
		if token.Cancelled() {
			return nil
		}
		onPacket(pkt)
		if f.Pace > 0 {
			select {
			case <-time.After(f.Pace):
			case <-token.Done():
				return nil
			}
		}
	}
	if f.Err != nil {
		return f.Err
	}
	<-token.Done()
	return nil
}
