package gateway

import (
	"testing"
	"time"

	"github.com/sothis/remote-agent/internal/framing"
)

func TestRouteClientToUnicastAgent(t *testing.T) {
	clients := NewClientTable()
	agents := NewAgentTable()
	a0 := agents.Allocate()
	mux := NewMultiplexer(clients, agents, nil)
	go mux.Run()
	defer mux.Close()

	mux.FromClients <- ClientPacket{Slot: 0, Hdr: framing.Header{BackendID: uint32(a0.Slot + 1)}, Body: []byte("cmd")}
	waitFor(t, func() bool { return !a0.Queue.Empty() })
}

func TestRouteClientBroadcastToAllAgents(t *testing.T) {
	clients := NewClientTable()
	agents := NewAgentTable()
	a0 := agents.Allocate()
	a1 := agents.Allocate()
	mux := NewMultiplexer(clients, agents, nil)
	go mux.Run()
	defer mux.Close()

	mux.FromClients <- ClientPacket{Slot: 0, Hdr: framing.Header{BackendID: 0}, Body: []byte("cmd")}
	waitFor(t, func() bool { return !a0.Queue.Empty() && !a1.Queue.Empty() })
}

func TestRouteAgentToUnicastClient(t *testing.T) {
	clients := NewClientTable()
	agents := NewAgentTable()
	c := clients.Allocate(0)
	c.Activate()
	mux := NewMultiplexer(clients, agents, nil)
	go mux.Run()
	defer mux.Close()

	mux.FromAgents <- AgentPacket{Slot: 0, Hdr: framing.Header{ClientID: uint32(c.Slot + 1)}, Body: []byte("INFO:NAME=CoreAgent")}
	waitFor(t, func() bool { return !c.Queue.Empty() })
}

func TestRouteAgentVideoUsesRealTimeLane(t *testing.T) {
	clients := NewClientTable()
	agents := NewAgentTable()
	c := clients.Allocate(0)
	c.Activate()
	mux := NewMultiplexer(clients, agents, nil)
	go mux.Run()
	defer mux.Close()

	mux.FromAgents <- AgentPacket{Slot: 0, Hdr: framing.Header{ClientID: 0, PayloadLen: 4}, Body: []byte{1, 0xDE, 0xAD, 0xBE}}
	waitFor(t, func() bool { return len(c.Queue.realtime) == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
