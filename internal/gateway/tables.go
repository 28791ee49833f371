package gateway

import (
	"sync"
	"time"
)

// ClientState is the lifecycle state of a gateway client slot.
type ClientState int

const (
	ClientHandshake ClientState = iota
	ClientActive
	ClientThrottled
)

// IdleTimeout closes a client that has sent nothing for this long.
const IdleTimeout = 60 * time.Second

// MaxConsecutiveSendFailures closes a client after this many failed sends.
const MaxConsecutiveSendFailures = 10

// RateWindow is the sliding window used for per-client byte-rate policing.
const RateWindow = 1 * time.Second

// Client is one gateway-side WebSocket client connection. Slot is the
// 0-based slot index; the client_id used on the wire is Slot+1 (as sent in
// the welcome packet).
type Client struct {
	Slot  int
	Queue *OutboundQueue

	mu                   sync.Mutex
	state                ClientState
	lastActivity         time.Time
	windowStart          time.Time
	windowBytes          int64
	maxBytesPerSec       int64
	consecutiveSendFails int
	now                  func() time.Time
}

// NewClient creates a client record in Handshake state.
func NewClient(slot int, maxBytesPerSec int64) *Client {
	now := time.Now()
	return &Client{
		Slot:           slot,
		Queue:          NewOutboundQueue(),
		state:          ClientHandshake,
		lastActivity:   now,
		windowStart:    now,
		maxBytesPerSec: maxBytesPerSec,
		now:            time.Now,
	}
}

// Activate transitions a client out of Handshake once the WebSocket upgrade
// completes.
func (c *Client) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ClientActive
}

// State returns the client's current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Touch records activity and accounts n bytes against the sliding rate
// window, resetting the window if it has elapsed. Returns true if the
// client should be throttled (treated as not-readable) for this iteration.
func (c *Client) Touch(n int64) (throttled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.lastActivity = now
	if now.Sub(c.windowStart) >= RateWindow {
		c.windowStart = now
		c.windowBytes = 0
	}
	c.windowBytes += n
	if c.maxBytesPerSec > 0 && c.windowBytes >= c.maxBytesPerSec {
		c.state = ClientThrottled
		return true
	}
	if c.state == ClientThrottled {
		c.state = ClientActive
	}
	return false
}

// IdleFor reports how long the client has been inactive.
func (c *Client) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastActivity)
}

// RecordSendResult tracks consecutive send failures; returns true once the
// client has crossed MaxConsecutiveSendFailures and must be closed.
func (c *Client) RecordSendResult(ok bool) (mustClose bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.consecutiveSendFails = 0
		return false
	}
	c.consecutiveSendFails++
	return c.consecutiveSendFails >= MaxConsecutiveSendFailures
}

// ClientTable tracks every gateway client slot, generalizing the teacher's
// server.Registry from stream-keyed entries to fixed numeric slots (gateway
// clients have no analogue of a stream key; routing is purely by slot).
type ClientTable struct {
	mu      sync.RWMutex
	clients map[int]*Client
}

// NewClientTable creates an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: make(map[int]*Client)}
}

// Allocate assigns the lowest free slot starting at 0 and returns the new
// Client. Slot+1 is the wire client_id.
func (t *ClientTable) Allocate(maxBytesPerSec int64) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := 0
	for {
		if _, taken := t.clients[slot]; !taken {
			break
		}
		slot++
	}
	c := NewClient(slot, maxBytesPerSec)
	t.clients[slot] = c
	return c
}

// Get returns the client at slot, or nil.
func (t *ClientTable) Get(slot int) *Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients[slot]
}

// Remove deletes the client at slot.
func (t *ClientTable) Remove(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, slot)
}

// Active returns a snapshot of every Active client, for broadcast fan-out.
func (t *ClientTable) Active() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		if c.State() == ClientActive {
			out = append(out, c)
		}
	}
	return out
}

// Len reports the number of tracked client slots.
func (t *ClientTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Agent is one gateway-side agent connection pair (control + data socket),
// generalizing server.Registry's Stream record to the agent side of the
// gateway, with a per-agent CircuitBreaker in place of the teacher's
// publisher/subscriber bookkeeping.
type Agent struct {
	Slot      int
	Connected bool
	Breaker   *CircuitBreaker
	Queue     *OutboundQueue
}

// NewAgent creates an agent record with a fresh, Closed circuit breaker.
func NewAgent(slot int) *Agent {
	return &Agent{Slot: slot, Connected: true, Breaker: NewCircuitBreaker(), Queue: NewOutboundQueue()}
}

// AgentTable tracks every gateway agent slot.
type AgentTable struct {
	mu     sync.RWMutex
	agents map[int]*Agent
}

// NewAgentTable creates an empty table.
func NewAgentTable() *AgentTable {
	return &AgentTable{agents: make(map[int]*Agent)}
}

// Allocate assigns the lowest free slot starting at 0.
func (t *AgentTable) Allocate() *Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := 0
	for {
		if _, taken := t.agents[slot]; !taken {
			break
		}
		slot++
	}
	a := NewAgent(slot)
	t.agents[slot] = a
	return a
}

// Get returns the agent at slot, or nil.
func (t *AgentTable) Get(slot int) *Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.agents[slot]
}

// Remove deletes the agent at slot.
func (t *AgentTable) Remove(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, slot)
}

// Connected returns a snapshot of every connected agent.
func (t *AgentTable) Connected() []*Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Agent, 0, len(t.agents))
	for _, a := range t.agents {
		if a.Connected {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of tracked agent slots.
func (t *AgentTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}
