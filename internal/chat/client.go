// Package chat relays messages between authenticated connections.
//
// A Server accepts sockets and runs a Handler per connection. The Handler
// authenticates the peer, registers it with the Hub, replays recent
// history and then forwards every chat frame to the Hub for fan-out.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

// Client is one connection as seen by the Hub. Its transport is read only
// by the owning Handler; writes may come from any broadcaster.
type Client struct {
	id       string
	conn     transport.Conn
	accepted time.Time

	// joined is set by Hub.Add and read by the replayer on the same
	// goroutine.
	joined time.Time

	// live holds chat lines delivered by broadcasts between Hub.Add and
	// the end of history replay. Nil outside that window.
	liveMu sync.Mutex
	live   map[liveKey]int

	closeOnce sync.Once
}

// liveKey identifies a chat line by the fields every backend keeps.
type liveKey struct {
	sender  string
	content string
	millis  int64
}

func keyOf(m *message.Message) liveKey {
	return liveKey{sender: m.Sender, content: m.Content, millis: m.Timestamp.UnixMilli()}
}

func newClient(conn transport.Conn) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		accepted: time.Now(),
	}
}

// ID returns the connection's identifier.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

func (c *Client) send(ctx context.Context, data []byte) error {
	return c.conn.WriteFrame(ctx, data)
}

func (c *Client) startReplay() {
	c.liveMu.Lock()
	c.live = make(map[liveKey]int)
	c.liveMu.Unlock()
}

func (c *Client) endReplay() {
	c.liveMu.Lock()
	c.live = nil
	c.liveMu.Unlock()
}

// noteLive records a chat line delivered while replay is pending.
func (c *Client) noteLive(m *message.Message) {
	c.liveMu.Lock()
	if c.live != nil {
		c.live[keyOf(m)]++
	}
	c.liveMu.Unlock()
}

// takeLive reports whether m was delivered live and, if so, consumes one
// delivery so an identical older line is still replayed.
func (c *Client) takeLive(m *message.Message) bool {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	k := keyOf(m)
	if c.live[k] == 0 {
		return false
	}
	c.live[k]--
	return true
}

// close releases the transport. Safe to call from the hub and the
// handler.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
