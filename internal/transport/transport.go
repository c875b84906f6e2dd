// Package transport moves complete frame bodies over a connection.
//
// Two stream framings are supported over TCP: the legacy contract where
// every read yields exactly one frame, and newline-delimited frames read
// through an accumulating buffer. WebSocket connections carry one frame
// per text message.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Conn carries frame bodies for one client. ReadFrame is only ever called
// from the owning handler goroutine; WriteFrame may be called concurrently
// and implementations serialize writes.
type Conn interface {
	// ReadFrame blocks until a frame arrives. It returns io.EOF when the
	// peer closes the connection and an error wrapping frame.ErrTooLarge
	// for oversized frames, after which reading may continue.
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() string
}

var errClosedByPeer = errors.New("connection closed by peer")

// IsClosed reports whether err means the peer went away or the
// connection was closed locally.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, errClosedByPeer) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "use of closed network connection")
}
