package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sothis/remote-agent/internal/bufpool"
	"github.com/sothis/remote-agent/internal/errs"
	"github.com/sothis/remote-agent/internal/framing"
	"github.com/sothis/remote-agent/internal/metrics"
)

// HandshakeTimeout bounds the WebSocket upgrade.
const HandshakeTimeout = 5 * time.Second

// upgrader mirrors the teacher pack's websocket.Upgrader configuration
// (buffer sizes, permissive CheckOrigin for the common case of a
// same-origin browser client talking to a local gateway).
var upgrader = websocket.Upgrader{
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	HandshakeTimeout: HandshakeTimeout,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// WSServer accepts browser WebSocket connections, allocates a client slot
// per connection, and bridges framed packets between the socket and the
// Multiplexer. It generalizes the teacher pack's Hub/ReadPump/WritePump
// pattern (goroutine-per-connection, a buffered Send channel instead of a
// readiness-polled write queue) to this module's three-lane OutboundQueue.
type WSServer struct {
	Clients *ClientTable
	Mux     *Multiplexer
	logger  *slog.Logger
}

// NewWSServer creates a server wired to the given client table and router.
func NewWSServer(clients *ClientTable, mux *Multiplexer, logger *slog.Logger) *WSServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSServer{Clients: clients, Mux: mux, logger: logger}
}

// HandleUpgrade is an http.HandlerFunc performing the WebSocket handshake,
// slot allocation, welcome packet delivery, and the read/write pump
// goroutines for the connection's lifetime.
func (s *WSServer) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		metrics.Errors.WithLabelValues(metrics.ErrHandshake).Inc()
		return
	}

	client := s.Clients.Allocate(0)
	client.Activate()
	s.logger.Info("client connected", "slot", client.Slot, "remote", r.RemoteAddr)

	welcome := framing.Header{PayloadLen: 0, ClientID: uint32(client.Slot + 1), BackendID: 0}
	if err := writeFramedMessage(conn, welcome, nil); err != nil {
		s.logger.Warn("welcome packet failed", "slot", client.Slot, "error", err)
		conn.Close()
		s.Clients.Remove(client.Slot)
		return
	}

	done := make(chan struct{})
	go s.writePump(conn, client, done)
	s.readPump(conn, client, done)
}

func (s *WSServer) readPump(conn *websocket.Conn, client *Client, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
		s.Clients.Remove(client.Slot)
		s.logger.Info("client disconnected", "slot", client.Slot)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		client.Touch(int64(len(data)))
		if client.State() == ClientThrottled {
			continue
		}
		if len(data) < framing.HeaderSize {
			metrics.Errors.WithLabelValues(metrics.ErrClientRead).Inc()
			continue
		}
		hdr, err := framing.DecodeHeader(data[:framing.HeaderSize])
		if err != nil {
			metrics.Errors.WithLabelValues(metrics.ErrClientRead).Inc()
			continue
		}
		payload := data[framing.HeaderSize:]
		s.Mux.FromClients <- ClientPacket{Slot: client.Slot, Hdr: hdr, Body: payload}
	}
}

func (s *WSServer) writePump(conn *websocket.Conn, client *Client, done chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if client.IdleFor() > IdleTimeout {
				s.logger.Info("closing idle client", "slot", client.Slot)
				conn.Close()
				return
			}
			for !client.Queue.Empty() {
				ok := client.Queue.Drain(func(b []byte) (WriteResult, int) {
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						return WriteFatal, 0
					}
					return WriteFull, len(b)
				})
				if !ok {
					// Drain leaves the failed packet at the lane head, so the
					// same send is retried on the next tick instead of being
					// dropped; only close once MaxConsecutiveSendFailures is
					// actually crossed.
					if client.RecordSendResult(false) {
						conn.Close()
						return
					}
					break
				}
				client.RecordSendResult(true)
			}
		}
	}
}

func writeFramedMessage(conn *websocket.Conn, hdr framing.Header, payload []byte) error {
	buf := bufpool.Get(framing.HeaderSize + len(payload))
	defer bufpool.Put(buf)
	hdr.Encode(buf[:framing.HeaderSize])
	copy(buf[framing.HeaderSize:], payload)
	if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return errs.NewProtocolError("wsserver.welcome", err)
	}
	return nil
}
