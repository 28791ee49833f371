package gateway

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/sothis/remote-agent/internal/framing"
	"github.com/sothis/remote-agent/internal/metrics"
)

var errDrainFatal = errors.New("gateway: fatal write draining agent queue")

// errCircuitOpen is returned by Run when the persistent breaker has tripped
// and is refusing new connection attempts to this address.
var errCircuitOpen = errors.New("gateway: circuit open, refusing connection attempt")

// AgentConn dials one agent's control/data socket and bridges it into the
// gateway's AgentTable and Multiplexer, the agent-facing analogue of
// WSServer's per-client read/write pumps. One AgentConn is created per
// configured agent address and its breaker persists across every Run call,
// so repeated reconnect failures to the same address accumulate toward
// CircuitBreaker's threshold instead of resetting on every new attempt.
type AgentConn struct {
	Addr    string
	Agents  *AgentTable
	Mux     *Multiplexer
	logger  *slog.Logger
	breaker *CircuitBreaker
}

// NewAgentConn creates a connector for addr, with its own CircuitBreaker
// that outlives any single Run call.
func NewAgentConn(addr string, agents *AgentTable, mux *Multiplexer, logger *slog.Logger) *AgentConn {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentConn{Addr: addr, Agents: agents, Mux: mux, logger: logger, breaker: NewCircuitBreaker()}
}

// Run dials Addr, registers an Agent slot, and pumps frames until the
// connection fails or stop is closed. It does not retry; callers wanting
// reconnect-on-failure loop Run themselves (see cmd/gateway). Every dial
// failure and every read/write failure on an established connection is
// recorded against the same persistent breaker, and Run refuses to dial at
// all while the breaker is Open.
func (a *AgentConn) Run(stop <-chan struct{}) error {
	if !a.breaker.Allow() {
		return errCircuitOpen
	}

	conn, err := net.Dial("tcp", a.Addr)
	if err != nil {
		a.breaker.RecordFailure()
		return err
	}
	defer conn.Close()
	a.breaker.RecordSuccess()

	agentRec := a.Agents.Allocate()
	agentRec.Breaker = a.breaker
	defer a.Agents.Remove(agentRec.Slot)
	a.logger.Info("agent connected", "addr", a.Addr, "slot", agentRec.Slot)

	done := make(chan struct{})
	go a.writePump(conn, agentRec, done)
	defer close(done)

	for {
		select {
		case <-stop:
			return nil
		default:
		}
		frame, err := framing.ReadFrame(conn)
		if err != nil {
			metrics.Errors.WithLabelValues(metrics.ErrAgentRead).Inc()
			a.breaker.RecordFailure()
			return err
		}
		a.Mux.FromAgents <- AgentPacket{Slot: agentRec.Slot, Hdr: frame.Header, Body: frame.Payload}
	}
}

func (a *AgentConn) writePump(conn net.Conn, rec *Agent, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for !rec.Queue.Empty() {
				err := rec.Breaker.Send(func() error {
					if ok := rec.Queue.Drain(drainToConn(conn)); !ok {
						return errDrainFatal
					}
					return nil
				})
				if err != nil {
					metrics.Errors.WithLabelValues(metrics.ErrCircuitBreak).Inc()
					return
				}
			}
		}
	}
}

// drainToConn adapts a net.Conn write into the (WriteResult, int) shape
// OutboundQueue.Drain expects, always treating a write error as fatal
// (agent sockets are plain TCP; there is no partial-write/WouldBlock
// distinction to recover mid-frame once framing.WriteFrame has begun).
func drainToConn(conn net.Conn) func([]byte) (WriteResult, int) {
	return func(b []byte) (WriteResult, int) {
		n, err := conn.Write(b)
		if err != nil {
			return WriteFatal, n
		}
		return WriteFull, n
	}
}
