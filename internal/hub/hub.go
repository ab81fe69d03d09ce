// Package hub fans received bus frames out to every attached listener — one
// per TCP bridge connection plus, potentially, an in-process console or
// logger. Unlike a CAN bus's arbitration-ID priority scheme, this protocol's
// frames carry an actual destination address (internal/frame.Frame.Destination),
// so a listener can subscribe to only the traffic addressed to it instead of
// sniffing everything on the wire.
package hub

import (
	"sync"

	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/logging"
	"github.com/grantwilk/busnode/internal/metrics"
)

// BackpressurePolicy decides what happens to a client whose Out channel is
// full at broadcast time.
type BackpressurePolicy int

const (
	// PolicyDrop silently skips the frame for that client; the client stays
	// connected but loses traffic.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick closes the client, forcing its bridge connection to drop
	// and reconnect rather than silently fall behind.
	PolicyKick
)

// Client is one fan-out destination. Addr, when non-nil, narrows delivery to
// frames addressed to that node (broadcast or an exact destination match,
// per frame.IsForLocal) — a bridge client representing a single addressed
// node on the bus. A nil Addr is a promiscuous listener and receives every
// frame, matching a bus analyzer or logging sink with no address of its own.
type Client struct {
	Out       chan frame.Frame
	Closed    chan struct{}
	Addr      *byte
	closeOnce sync.Once
}

// wants reports whether fr should be delivered to c given its address filter.
func (c *Client) wants(fr frame.Frame) bool {
	return c.Addr == nil || frame.IsForLocal(fr.Destination, *c.Addr)
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast delivers a frame to every client whose address filter accepts
// it, honoring the backpressure policy for each. A client filtered out by
// address is not counted as congested — it simply isn't subscribed to this
// frame's destination.
func (h *Hub) Broadcast(fr frame.Frame) {
	// Reuse Snapshot to avoid duplicating slice copy logic.
	clients := h.Snapshot()
	metrics.SetHubClients(len(clients))

	interested := clients[:0:0]
	for _, c := range clients {
		if c.wants(fr) {
			interested = append(interested, c)
		}
	}
	metrics.SetBroadcastFanout(len(interested))
	if len(interested) > 0 {
		max := 0
		sum := 0
		for _, c := range interested {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(interested))
	}
	for _, c := range interested {
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // signal writer to exit; server will Remove on disconnect
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
