package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/sothis/remote-agent/internal/cancel"
)

// Announcer periodically broadcasts a discovery Packet describing this
// agent to both the LAN broadcast address and localhost.
type Announcer struct {
	Packet Packet
	logger *slog.Logger
}

// NewAnnouncer creates an Announcer for the given packet template.
func NewAnnouncer(p Packet, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{Packet: p, logger: logger}
}

// Run broadcasts Packet every BroadcastInterval until token is cancelled.
// Selecting on token.Done() alongside the ticker makes shutdown immediate,
// the Go equivalent of the original agent's "sleep in <=100ms slices".
func (a *Announcer) Run(token cancel.Token) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetWriteBuffer(1 << 16)
	if err := setBroadcast(conn); err != nil {
		return fmt.Errorf("discovery: enable SO_BROADCAST: %w", err)
	}

	targets := []string{"255.255.255.255:9999", "127.0.0.1:9999"}
	buf := Encode(a.Packet)

	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()

	for {
		for _, t := range targets {
			addr, err := net.ResolveUDPAddr("udp4", t)
			if err != nil {
				a.logger.Warn("discovery: resolve target failed", "target", t, "error", err)
				continue
			}
			if _, err := conn.WriteToUDP(buf, addr); err != nil {
				a.logger.Warn("discovery: broadcast failed", "target", t, "error", err)
			}
		}
		select {
		case <-token.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// setBroadcast enables SO_BROADCAST on conn, without which a send to the
// LAN broadcast address fails with EACCES on Linux/BSD/macOS (mirrors the
// original agent's setsockopt(SOL_SOCKET, SO_BROADCAST) call before it
// broadcasts its presence).
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
