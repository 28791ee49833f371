package discovery

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// Entry is one live agent the gateway has learned about via discovery.
type Entry struct {
	Host         string
	Port         uint32
	ServiceName  string
	Capabilities uint32
	LastSeen     time.Time
}

type tableKey struct {
	host string
	port uint32
}

// Table is the gateway-side time-indexed set of discovered agents. Entries
// not refreshed within BackendTimeout are pruned.
type Table struct {
	mu      sync.Mutex
	entries map[tableKey]Entry
	now     func() time.Time
}

// NewTable creates an empty Table using the real clock.
func NewTable() *Table {
	return &Table{entries: make(map[tableKey]Entry), now: time.Now}
}

// Upsert records or refreshes an entry learned from a valid discovery
// packet received from senderIP. host is the advertised hostname if
// non-empty, else senderIP.
func (t *Table) Upsert(pkt Packet, senderIP string) {
	host := pkt.AdvertisedHost
	if host == "" {
		host = senderIP
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := tableKey{host: host, port: pkt.ServicePort}
	t.entries[key] = Entry{
		Host:         host,
		Port:         pkt.ServicePort,
		ServiceName:  pkt.ServiceName,
		Capabilities: pkt.Capabilities,
		LastSeen:     t.now(),
	}
}

// Prune removes every entry whose LastSeen is older than BackendTimeout.
func (t *Table) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for k, e := range t.entries {
		if now.Sub(e.LastSeen) > BackendTimeout {
			delete(t.entries, k)
		}
	}
}

// Entries returns a snapshot of all currently live entries.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if now.Sub(e.LastSeen) > BackendTimeout {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Listener receives UDP discovery packets on Port and feeds Table.
type Listener struct {
	Table  *Table
	logger *slog.Logger
}

// NewListener creates a Listener that feeds table. The caller binds the
// discovery UDP socket and passes it to Run.
func NewListener(table *Table, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{Table: table, logger: logger}
}

// Run reads discovery packets until stop is closed or a read fails with an
// error other than a timeout. Each read uses a 500ms deadline, so a closed
// stop is noticed within that interval; Run does not close conn. Run also
// installs a periodic Prune on the same cadence as BackendTimeout/2 to
// bound staleness.
func (l *Listener) Run(conn *net.UDPConn, stop <-chan struct{}) error {
	go func() {
		ticker := time.NewTicker(BackendTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Table.Prune()
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		select {
		case <-stop:
			return nil
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		if n < Size {
			continue
		}
		pkt, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		if !IsValidMagic(pkt.Magic) {
			continue
		}
		l.Table.Upsert(pkt, addr.IP.String())
	}
}
