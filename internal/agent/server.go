package agent

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/framing"
	"github.com/sothis/remote-agent/internal/metrics"
	"github.com/sothis/remote-agent/internal/video"
)

// DefaultPort is the agent's default control/data listening port, matching
// the teacher-pack CLI convention of a single positional port argument.
const DefaultPort = 9090

// Server accepts TCP connections, thread-per-connection in the spirit of
// the teacher's conn.Accept loop, and dispatches every framed packet's text
// payload through a Dispatcher. Stream subscriptions (monitor/webcam video)
// push tagged payloads back on the same connection.
type Server struct {
	Listener   net.Listener
	Dispatcher *Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// NewServer wraps an already-bound listener.
func NewServer(l net.Listener, d *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Listener: l, Dispatcher: d, logger: logger, conns: make(map[*connection]struct{})}
}

// Listen binds addr (host:port or :port) and returns a Server ready to
// Serve.
func Listen(addr string, d *Dispatcher, logger *slog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.NewFatalError("agent.listen", err)
	}
	return NewServer(l, d, logger), nil
}

// Serve accepts connections until the listener is closed. Each connection
// is handled in its own goroutine and never blocks another.
func (s *Server) Serve() error {
	for {
		raw, err := s.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errs.NewFatalError("agent.accept", err)
		}
		c := newConnection(raw, s.Dispatcher, s.logger)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go func() {
			c.run()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.Listener.Close()
}

// connection is one accepted control+data socket. Responses and
// asynchronous pushes (keylog events, video) are serialized onto the same
// net.Conn by a single writer goroutine fed by outbound.
type connection struct {
	conn       net.Conn
	dispatcher *Dispatcher
	logger     *slog.Logger
	outbound   chan framing.Frame

	mu         sync.Mutex
	backendID  uint32
	monitorSub *streamSubscriber
	webcamSub  *streamSubscriber
}

func newConnection(raw net.Conn, d *Dispatcher, logger *slog.Logger) *connection {
	return &connection{
		conn:       raw,
		dispatcher: d,
		logger:     logger,
		outbound:   make(chan framing.Frame, 64),
		backendID:  1,
	}
}

// Send implements Sender: frames payload with the given backendID (0
// becomes 1). Callers pass the incoming backend_id they are answering, per
// the protocol's echo rule.
func (c *connection) Send(backendID uint32, payload []byte) error {
	if backendID == 0 {
		backendID = 1
	}
	select {
	case c.outbound <- framing.Frame{Header: framing.Header{ClientID: 0, BackendID: backendID}, Payload: payload}:
		return nil
	default:
		return errs.NewTimeoutError("agent.send", 0, nil)
	}
}

func (c *connection) run() {
	defer c.conn.Close()
	defer c.unsubscribeAll()
	done := make(chan struct{})
	go c.writeLoop(done)
	defer close(done)

	for {
		frame, err := framing.ReadFrame(c.conn)
		if err != nil {
			metrics.Errors.WithLabelValues(metrics.ErrAgentRead).Inc()
			return
		}
		backendID := frame.Header.BackendID
		if backendID == 0 {
			backendID = 1
		}
		c.mu.Lock()
		c.backendID = backendID
		c.mu.Unlock()

		line := string(frame.Payload)
		responses := c.dispatcher.Handle(line, c, backendID)
		c.handleStreamSideEffects(line)
		for _, resp := range responses {
			payload := append([]byte{byte(TagText)}, []byte(resp)...)
			if err := c.Send(backendID, payload); err != nil {
				c.logger.Warn("agent response dropped, outbound full", "error", err)
			}
		}
	}
}

// handleStreamSideEffects subscribes/unsubscribes this connection to the
// dispatcher's video buses in step with start/stop commands. The
// dispatcher itself only owns session lifecycle (start/stop the producer);
// fan-out registration is a per-connection concern, since a command
// connection is also this protocol's video sink.
func (c *connection) handleStreamSideEffects(line string) {
	cmd, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd {
	case "start_monitor_stream":
		if c.monitorSub == nil && c.dispatcher.MonitorBus != nil {
			c.monitorSub = newStreamSubscriber(c, TagMonitor, c.logger)
			c.monitorSub.id = c.dispatcher.MonitorBus.Subscribe(c.monitorSub)
		}
	case "stop_monitor_stream":
		if c.monitorSub != nil && c.dispatcher.MonitorBus != nil {
			c.dispatcher.MonitorBus.Unsubscribe(c.monitorSub.id)
			c.monitorSub.Close()
			c.monitorSub = nil
		}
	case "start_webcam_stream":
		if c.webcamSub == nil && c.dispatcher.WebcamBus != nil {
			c.webcamSub = newStreamSubscriber(c, TagWebcam, c.logger)
			c.webcamSub.id = c.dispatcher.WebcamBus.Subscribe(c.webcamSub)
		}
	case "stop_webcam_stream":
		if c.webcamSub != nil && c.dispatcher.WebcamBus != nil {
			c.dispatcher.WebcamBus.Unsubscribe(c.webcamSub.id)
			c.webcamSub.Close()
			c.webcamSub = nil
		}
	}
}

// unsubscribeAll tears down any live stream subscriptions when the
// connection closes, so a dead control socket never keeps a drain
// goroutine or a bus subscriber slot alive.
func (c *connection) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorSub != nil && c.dispatcher.MonitorBus != nil {
		c.dispatcher.MonitorBus.Unsubscribe(c.monitorSub.id)
		c.monitorSub.Close()
		c.monitorSub = nil
	}
	if c.webcamSub != nil && c.dispatcher.WebcamBus != nil {
		c.dispatcher.WebcamBus.Unsubscribe(c.webcamSub.id)
		c.webcamSub.Close()
		c.webcamSub = nil
	}
}

func (c *connection) writeLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-c.outbound:
			if err := framing.WriteFrame(c.conn, frame.Header, frame.Payload); err != nil {
				metrics.Errors.WithLabelValues(metrics.ErrAgentWrite).Inc()
				return
			}
		}
	}
}

// streamSubscriber adapts a connection into a bus.Subscriber. Push never
// blocks: it hands the packet to an internal bus.QueueSubscriber, which
// applies the bus's kind-aware drop policy (KeyFrame/CodecConfig clears a
// saturated backlog instead of being dropped itself), and a dedicated drain
// goroutine prefixes the stream tag byte and frames the result onto the
// connection's outbound channel.
type streamSubscriber struct {
	conn *connection
	tag  StreamTag
	id   uint64
	q    *bus.QueueSubscriber
}

func newStreamSubscriber(conn *connection, tag StreamTag, logger *slog.Logger) *streamSubscriber {
	s := &streamSubscriber{conn: conn, tag: tag, q: bus.NewQueueSubscriber(logger)}
	go s.drain()
	return s
}

func (s *streamSubscriber) Push(pkt video.Packet) {
	s.q.Push(pkt)
}

// Close stops the drain goroutine; any packet queued after Close is
// silently dropped by the underlying QueueSubscriber.
func (s *streamSubscriber) Close() {
	s.q.Close()
}

func (s *streamSubscriber) drain() {
	for {
		pkt, ok := s.q.Next()
		if !ok {
			return
		}
		payload := make([]byte, 1+len(pkt.Data))
		payload[0] = byte(s.tag)
		copy(payload[1:], pkt.Data)
		s.conn.mu.Lock()
		backendID := s.conn.backendID
		s.conn.mu.Unlock()
		_ = s.conn.Send(backendID, payload)
	}
}

