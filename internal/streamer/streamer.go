// Package streamer defines the boundary between a StreamSession and the
// thing that actually produces video packets: a subprocess wrapping an
// external encoder, a webcam capture pipeline, a screen grabber. It mirrors
// the teacher's hooks.ShellHook os/exec usage, generalized from "run a
// shell command on an event" to "stream packets from a long-lived
// subprocess until cancelled."
package streamer

import (
	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/video"
)

// Streamer produces a sequence of video packets, invoking onPacket for each
// one, until the supplied token is cancelled or an unrecoverable error
// occurs. Stream blocks for the lifetime of the stream; callers run it in
// its own goroutine.
type Streamer interface {
	Stream(onPacket func(video.Packet), token cancel.Token) error
}
