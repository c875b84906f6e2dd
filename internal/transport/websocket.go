package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/chatrelay/internal/frame"
)

// WebSocketConn carries one frame per WebSocket text message.
type WebSocketConn struct {
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration

	closeOnce sync.Once
}

// AcceptWebSocket upgrades the request. Oversized messages close the
// connection, as the websocket library does not allow reading past them.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, maxFrame int, writeTimeout time.Duration) (*WebSocketConn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(maxFrame))
	return &WebSocketConn{conn: conn, remote: r.RemoteAddr, writeTimeout: writeTimeout}, nil
}

func (c *WebSocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code == websocket.StatusMessageTooBig {
					return nil, frame.ErrTooLarge
				}
				return nil, errClosedByPeer
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *WebSocketConn) WriteFrame(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	// websocket.Conn serializes concurrent writers itself.
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func (c *WebSocketConn) RemoteAddr() string {
	return c.remote
}
