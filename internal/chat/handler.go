package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/christopherjohns/chatrelay/internal/auth"
	"github.com/christopherjohns/chatrelay/internal/frame"
	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

// State is a connection's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Authenticator checks the first frame of a connection.
type Authenticator interface {
	Authenticate(ctx context.Context, req frame.Auth) (string, error)
}

// Handler drives one connection from accept to close.
type Handler struct {
	hub      *Hub
	gate     Authenticator
	replayer *Replayer
	log      logging.Logger
	metrics  *metrics.Metrics

	// onState, when set, observes every state transition.
	onState func(c *Client, s State)
}

// NewHandler wires a Handler.
func NewHandler(hub *Hub, gate Authenticator, replayer *Replayer, log logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		hub:      hub,
		gate:     gate,
		replayer: replayer,
		log:      log,
		metrics:  m,
	}
}

func (h *Handler) setState(c *Client, s State) {
	if h.onState != nil {
		h.onState(c, s)
	}
}

// Serve runs the connection until the peer goes away or the transport
// fails. The transport is closed on return.
func (h *Handler) Serve(ctx context.Context, conn transport.Conn) {
	c := newClient(conn)
	log := h.log.With("conn_id", c.id, "remote", conn.RemoteAddr())
	h.setState(c, StateConnecting)
	defer func() {
		c.close()
		h.setState(c, StateClosed)
	}()

	h.setState(c, StateAuthenticating)
	username, ok := h.authenticate(ctx, c, log)
	if !ok {
		return
	}

	h.setState(c, StateActive)
	h.hub.Add(c, username)
	defer func() {
		h.hub.Remove(c)
		h.hub.Broadcast(ctx, message.Left(username), nil)
		log.Info(ctx, "client left", "username", username)
	}()

	h.replayer.Replay(ctx, c)
	h.hub.Broadcast(ctx, message.Joined(username), c)
	log.Info(ctx, "client joined", "username", username)

	h.readLoop(ctx, c, username, log)
}

// authenticate reads and answers the auth frame. On failure the error
// frame has been sent and the caller only needs to close.
func (h *Handler) authenticate(ctx context.Context, c *Client, log logging.Logger) (string, bool) {
	data, err := c.conn.ReadFrame(ctx)
	if err != nil && !frame.IsFrameError(err) {
		log.Debug(ctx, "connection closed before auth", "error", err)
		return "", false
	}

	var req frame.Auth
	if err == nil {
		err = frame.Decode(data, &req)
	}
	if err == nil {
		_, err = h.gate.Authenticate(ctx, req)
	}
	if err != nil {
		h.metrics.RecordAuth(authLabel(err))
		h.reply(ctx, c, frame.AuthResult{Error: auth.Reason(err)}, log)
		return "", false
	}

	h.metrics.RecordAuth("success")
	if !h.reply(ctx, c, frame.AuthResult{Success: true}, log) {
		return "", false
	}
	return req.Username, true
}

func (h *Handler) reply(ctx context.Context, c *Client, res frame.AuthResult, log logging.Logger) bool {
	data, err := frame.Encode(res)
	if err == nil {
		err = c.send(ctx, data)
	}
	if err != nil {
		log.Debug(ctx, "failed to send auth result", "error", err)
		return false
	}
	return true
}

func (h *Handler) readLoop(ctx context.Context, c *Client, username string, log logging.Logger) {
	for {
		data, err := c.conn.ReadFrame(ctx)
		if err != nil {
			if frame.IsFrameError(err) {
				h.metrics.RecordMalformed()
				log.Debug(ctx, "discarding frame", "error", err)
				continue
			}
			if !transport.IsClosed(err) {
				log.Debug(ctx, "read failed", "error", err)
			}
			return
		}

		content, err := frame.DecodeSend(data)
		if err != nil {
			h.metrics.RecordMalformed()
			log.Debug(ctx, "discarding frame", "error", err)
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		h.hub.Broadcast(ctx, message.NewChat(username, content), c)
	}
}

func authLabel(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateUsername):
		return "duplicate_username"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrMissingCredentials):
		return "missing_credentials"
	case frame.IsFrameError(err):
		return "invalid_frame"
	}
	return "storage_error"
}
