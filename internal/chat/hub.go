package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/store"
)

// Persister accepts fire-and-forget store jobs. *store.Worker satisfies it.
type Persister interface {
	Go(op string, fn store.Job)
}

// Hub maps live authenticated clients to their usernames and fans out
// broadcasts to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]string

	store   Persister
	log     logging.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty Hub. Chat messages are persisted through p
// after each broadcast; p may be nil.
func NewHub(p Persister, log logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]string),
		store:   p,
		log:     log,
		metrics: m,
	}
}

// Add registers c under username. Chat lines broadcast to c from here on
// are remembered until its history replay ends.
func (h *Hub) Add(c *Client, username string) {
	c.startReplay()
	h.mu.Lock()
	_, exists := h.clients[c]
	h.clients[c] = username
	c.joined = time.Now()
	h.mu.Unlock()

	if !exists {
		h.metrics.ClientAdded()
	}
}

// Remove unregisters c. It reports whether c was registered; repeated
// calls are no-ops.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		h.metrics.ClientRemoved()
	}
	return ok
}

// Broadcast sends m to every registered client except exclude. A client
// whose write fails is removed and its transport closed, which ends its
// handler's read loop. User-authored messages are then queued for
// storage without waiting.
//
// Writes are bounded by each transport's write timeout, not by the
// sender's ctx.
func (h *Hub) Broadcast(ctx context.Context, m *message.Message, exclude *Client) {
	data, err := m.Encode()
	if err != nil {
		h.log.Error(ctx, "failed to encode message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sendCtx := context.WithoutCancel(ctx)
	for _, c := range targets {
		if !m.IsSystem() {
			c.noteLive(m)
		}
		if err := c.send(sendCtx, data); err != nil {
			h.log.Debug(ctx, "send failed, dropping client", "conn_id", c.id, "error", err)
			h.metrics.RecordSendFailure()
			h.Remove(c)
			c.close()
		}
	}
	h.metrics.RecordBroadcast(string(m.Type))

	if m.IsSystem() || h.store == nil {
		return
	}
	h.store.Go("insert_message", func(ctx context.Context, g store.Gateway) error {
		return g.InsertMessage(ctx, m)
	})
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Usernames returns the usernames of registered clients, sorted, with
// one entry per connection.
func (h *Hub) Usernames() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.clients))
	for _, name := range h.clients {
		names = append(names, name)
	}
	h.mu.RUnlock()

	sort.Strings(names)
	return names
}

// CloseAll closes every registered client's transport. Handlers then
// exit through their normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.close()
	}
}
