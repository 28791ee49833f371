package gateway

import (
	"log/slog"

	"github.com/sothis/remote-agent/internal/framing"
)

// Multiplexer routes framed packets between WebSocket clients and backend
// agents. The original corpus drives this with a single select-based
// readiness loop over all sockets; this rendition uses the Go-idiomatic
// equivalent established for the rest of this module: one goroutine per
// connection moves bytes, and the Multiplexer itself is a pure routing
// function fed by channels, so no readiness polling or fixed 10ms timeout
// is needed (see the cancellation/session components for the same
// redesign).
type Multiplexer struct {
	Clients *ClientTable
	Agents  *AgentTable
	logger  *slog.Logger

	FromClients chan ClientPacket
	FromAgents  chan AgentPacket
}

// ClientPacket is a framed packet received from client slot Slot, destined
// for routing to one or more agents.
type ClientPacket struct {
	Slot int
	Hdr  framing.Header
	Body []byte
}

// AgentPacket is a framed packet received from agent slot Slot (either its
// control or data socket), destined for routing to one or more clients.
type AgentPacket struct {
	Slot int
	Hdr  framing.Header
	Body []byte
}

// NewMultiplexer creates a router wired to the given tables.
func NewMultiplexer(clients *ClientTable, agents *AgentTable, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		Clients:     clients,
		Agents:      agents,
		logger:      logger,
		FromClients: make(chan ClientPacket, 256),
		FromAgents:  make(chan AgentPacket, 256),
	}
}

// Run drains FromClients and FromAgents until both are closed, applying the
// routing rules: client_id/backend_id==0 means broadcast, otherwise unicast
// to the addressed slot. Agent-bound packets go on each target's Critical
// lane; client-bound packets carrying a video stream tag go on the RealTime
// lane via EnqueueVideo, and all others on the Critical lane. Each
// connection's writer goroutine drains its queue on a 10ms tick (see
// wsserver.go and agentconn.go).
func (m *Multiplexer) Run() {
	for m.FromClients != nil || m.FromAgents != nil {
		select {
		case pkt, ok := <-m.FromClients:
			if !ok {
				m.FromClients = nil
				continue
			}
			m.routeToAgents(pkt)
		case pkt, ok := <-m.FromAgents:
			if !ok {
				m.FromAgents = nil
				continue
			}
			m.routeToClients(pkt)
		}
	}
}

func (m *Multiplexer) routeToAgents(pkt ClientPacket) {
	hdr := pkt.Hdr
	hdr.ClientID = uint32(pkt.Slot + 1)
	if hdr.BackendID == 0 {
		for _, a := range m.Agents.Connected() {
			a.Queue.Enqueue(LaneCritical, pkt.Body)
		}
		return
	}
	if a := m.Agents.Get(int(hdr.BackendID) - 1); a != nil {
		a.Queue.Enqueue(LaneCritical, pkt.Body)
	}
}

func (m *Multiplexer) routeToClients(pkt AgentPacket) {
	hdr := pkt.Hdr
	hdr.BackendID = uint32(pkt.Slot + 1)
	isVideo := looksLikeVideo(pkt.Body)

	enqueue := func(c *Client) {
		if isVideo {
			c.Queue.EnqueueVideo(pkt.Body)
			return
		}
		c.Queue.Enqueue(LaneCritical, pkt.Body)
	}

	if hdr.ClientID == 0 {
		for _, c := range m.Clients.Active() {
			enqueue(c)
		}
		return
	}
	if c := m.Clients.Get(int(hdr.ClientID) - 1); c != nil {
		enqueue(c)
	}
}

// looksLikeVideo distinguishes a stream-tagged media payload (see
// agent.StreamTag: 1=monitor, 2=webcam) from a text
// control/status line, so broadcast video gets RealTime priority instead of
// competing with Critical control traffic.
func looksLikeVideo(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return body[0] == 1 || body[0] == 2
}

// Close shuts down the router's input channels.
func (m *Multiplexer) Close() {
	close(m.FromClients)
	close(m.FromAgents)
}
