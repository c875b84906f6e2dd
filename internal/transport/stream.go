package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/christopherjohns/chatrelay/internal/frame"
)

// Framing selects how frames are delimited on a stream.
type Framing int

const (
	// Line frames end with '\n'. Reads accumulate until a terminator.
	Line Framing = iota
	// Legacy treats every read as exactly one frame with no terminator.
	// A peer must not write two frames without the other side reading in
	// between.
	Legacy
)

// ParseFraming maps a config value to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "line", "":
		return Line, nil
	case "legacy":
		return Legacy, nil
	}
	return Line, fmt.Errorf("unknown framing %q", s)
}

// StreamConn frames a net.Conn.
type StreamConn struct {
	conn         net.Conn
	framing      Framing
	maxFrame     int
	writeTimeout time.Duration

	reader  *bufio.Reader
	readBuf []byte

	writeMu sync.Mutex
}

// NewStreamConn wraps conn. maxFrame bounds a single frame body;
// writeTimeout bounds each WriteFrame (zero means no deadline).
func NewStreamConn(conn net.Conn, framing Framing, maxFrame int, writeTimeout time.Duration) *StreamConn {
	c := &StreamConn{
		conn:         conn,
		framing:      framing,
		maxFrame:     maxFrame,
		writeTimeout: writeTimeout,
	}
	switch framing {
	case Legacy:
		// One spare byte tells a maximum-size frame from a longer one.
		c.readBuf = make([]byte, maxFrame+1)
	default:
		// +1 leaves room for the terminator of a maximum-size frame.
		c.reader = bufio.NewReaderSize(conn, maxFrame+1)
	}
	return c
}

func (c *StreamConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if c.framing == Legacy {
		return c.readLegacy()
	}
	return c.readLine()
}

func (c *StreamConn) readLegacy() ([]byte, error) {
	n, err := c.conn.Read(c.readBuf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if n > c.maxFrame {
		return nil, frame.ErrTooLarge
	}
	out := make([]byte, n)
	copy(out, c.readBuf[:n])
	return out, nil
}

func (c *StreamConn) readLine() ([]byte, error) {
	for {
		line, err := c.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if derr := c.discardLine(); derr != nil {
				return nil, derr
			}
			return nil, frame.ErrTooLarge
		}
		if err != nil {
			// A partial frame at EOF is dropped.
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

// discardLine skips the rest of an oversized line.
func (c *StreamConn) discardLine() error {
	for {
		_, err := c.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func (c *StreamConn) WriteFrame(ctx context.Context, data []byte) error {
	if c.framing == Line {
		buf := make([]byte, 0, len(data)+1)
		buf = append(buf, data...)
		data = append(buf, '\n')
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}

func (c *StreamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
