// Package session implements StreamSession, the state machine owning one
// producer's worker goroutine: the goroutine calls a blocking
// Streamer.Stream and forwards every packet it emits to a BroadcastBus. It
// generalizes the teacher's conn.Session (which tracked RTMP connect/createStream/
// publish/play transitions) combined with the original backend's
// StreamSession start/stop/worker_routine lifecycle, translated from
// std::thread+join to a goroutine plus a done channel.
package session

import (
	"log/slog"
	"sync"

	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/streamer"
	"github.com/sothis/remote-agent/internal/video"
)

// State is the lifecycle state of a StreamSession.
type State uint8

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "stopped"
	}
}

// StreamSession drives a Streamer's worker goroutine and wires its output
// into a BroadcastBus. Start and Stop are safe to call from any goroutine;
// Stop is idempotent, while Start on a starting or running session returns
// a BusyError. State transitions are serialized by mu.
type StreamSession struct {
	streamer streamer.Streamer
	bus      *bus.BroadcastBus
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	source *cancel.Source
	done   chan struct{}
}

// New creates a StreamSession in the Stopped state.
func New(s streamer.Streamer, b *bus.BroadcastBus, logger *slog.Logger) *StreamSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSession{
		streamer: s,
		bus:      b,
		logger:   logger,
		state:    Stopped,
		source:   cancel.NewSource(),
	}
}

// Start transitions Stopped -> Starting -> Running and spawns the worker
// goroutine. Returns a BusyError if the session is already starting or
// running.
func (ss *StreamSession) Start() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.state == Running || ss.state == Starting {
		return errs.NewBusyError("session.start")
	}

	ss.state = Starting
	ss.source.Reset()
	token := ss.source.Token()
	gen := ss.bus.NewGeneration()
	ss.done = make(chan struct{})

	go ss.workerRoutine(token, gen, ss.done)

	ss.state = Running
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, cancels the worker's
// token, and blocks until the worker goroutine has exited. Safe to call
// when already stopped.
func (ss *StreamSession) Stop() {
	ss.mu.Lock()
	if ss.state == Stopped || ss.state == Stopping {
		ss.mu.Unlock()
		return
	}
	ss.state = Stopping
	done := ss.done
	ss.mu.Unlock()

	ss.source.Cancel()
	if done != nil {
		<-done
	}

	ss.mu.Lock()
	ss.state = Stopped
	ss.mu.Unlock()
}

// State returns the current lifecycle state.
func (ss *StreamSession) State() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

// IsActive reports whether the session is currently Running.
func (ss *StreamSession) IsActive() bool { return ss.State() == Running }

func (ss *StreamSession) workerRoutine(token cancel.Token, generation uint64, done chan struct{}) {
	defer close(done)

	sink := func(pkt video.Packet) {
		pkt.Generation = generation
		ss.bus.Push(pkt)
	}

	err := ss.streamer.Stream(sink, token)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err != nil {
		ss.logger.Error("stream session worker failed", "error", err, "kind", errs.Kind(err))
		if ss.state != Stopping {
			ss.state = Failed
		}
		return
	}
	if ss.state != Stopping {
		// worker returned cleanly without cancellation: treat as a stop request
		// satisfied out of band rather than a failure.
		ss.state = Stopped
	}
}
