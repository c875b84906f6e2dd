package chat

import (
	"context"
	"time"

	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/store"
)

// Querier runs a store job and waits for it. *store.Worker satisfies it.
type Querier interface {
	Do(ctx context.Context, op string, fn store.Job) error
}

// Replayer sends recent history to a newly joined client.
type Replayer struct {
	store   Querier
	limit   int
	pace    time.Duration
	log     logging.Logger
	metrics *metrics.Metrics
}

// NewReplayer creates a Replayer sending at most limit messages with
// pace between sends.
func NewReplayer(r Querier, limit int, pace time.Duration, log logging.Logger, m *metrics.Metrics) *Replayer {
	return &Replayer{store: r, limit: limit, pace: pace, log: log, metrics: m}
}

// Replay sends up to limit stored messages to c, oldest first, and
// returns how many were sent. Messages stamped after c joined, or already
// delivered to c by a broadcast, are skipped. Any failure stops the
// replay quietly.
func (r *Replayer) Replay(ctx context.Context, c *Client) int {
	defer c.endReplay()
	if r.limit <= 0 {
		return 0
	}

	var recent []*message.Message
	err := r.store.Do(ctx, "query_recent_messages", func(ctx context.Context, g store.Gateway) error {
		var err error
		recent, err = g.RecentMessages(ctx, r.limit)
		return err
	})
	if err != nil {
		r.log.Warn(ctx, "history query failed", "conn_id", c.id, "error", err)
		return 0
	}

	sent := 0
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if !c.joined.IsZero() && m.Timestamp.After(c.joined) {
			continue
		}
		if c.takeLive(m) {
			continue
		}
		if sent > 0 && r.pace > 0 {
			select {
			case <-time.After(r.pace):
			case <-ctx.Done():
				return sent
			}
		}

		m.Type = message.TypeChat
		data, err := m.Encode()
		if err != nil {
			continue
		}
		if err := c.send(ctx, data); err != nil {
			r.log.Debug(ctx, "history replay interrupted", "conn_id", c.id, "sent", sent, "error", err)
			break
		}
		sent++
	}
	r.metrics.RecordReplayed(sent)
	return sent
}
