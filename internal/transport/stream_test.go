package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/chatrelay/internal/frame"
)

func pipe(t *testing.T, framing Framing, maxFrame int) (*StreamConn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewStreamConn(server, framing, maxFrame, time.Second), client
}

func writeAsync(conn net.Conn, data string) {
	go func() { _, _ = conn.Write([]byte(data)) }()
}

func TestLineFramingSplitsFrames(t *testing.T) {
	sc, peer := pipe(t, Line, 64)
	writeAsync(peer, "{\"a\":1}\n{\"b\":2}\r\n")

	ctx := context.Background()
	first, err := sc.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Fatalf("first frame = %q", first)
	}
	second, err := sc.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Fatalf("second frame = %q", second)
	}
}

func TestLineFramingAccumulatesPartialWrites(t *testing.T) {
	sc, peer := pipe(t, Line, 64)
	go func() {
		_, _ = peer.Write([]byte(`{"mess`))
		_, _ = peer.Write([]byte(`age":"hi"}` + "\n"))
	}()

	got, err := sc.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != `{"message":"hi"}` {
		t.Fatalf("frame = %q", got)
	}
}

func TestLineFramingSkipsBlankLines(t *testing.T) {
	sc, peer := pipe(t, Line, 64)
	writeAsync(peer, "\n\r\n{}\n")

	got, err := sc.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("frame = %q", got)
	}
}

func TestLineFramingOversizedFrame(t *testing.T) {
	sc, peer := pipe(t, Line, 16)
	writeAsync(peer, strings.Repeat("x", 100)+"\n{}\n")

	ctx := context.Background()
	_, err := sc.ReadFrame(ctx)
	if !errors.Is(err, frame.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	// The stream resynchronizes on the next line.
	got, err := sc.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame after oversize: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("frame = %q", got)
	}
}

func TestLineFramingMaxSizeFits(t *testing.T) {
	sc, peer := pipe(t, Line, 16)
	body := strings.Repeat("y", 16)
	writeAsync(peer, body+"\n")

	got, err := sc.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != body {
		t.Fatalf("frame = %q", got)
	}
}

func TestLineFramingEOF(t *testing.T) {
	sc, peer := pipe(t, Line, 64)
	peer.Close()

	_, err := sc.ReadFrame(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if !IsClosed(err) {
		t.Fatal("IsClosed should report EOF")
	}
}

func TestLineFramingWriteAppendsNewline(t *testing.T) {
	sc, peer := pipe(t, Line, 64)

	errCh := make(chan error, 1)
	go func() { errCh <- sc.WriteFrame(context.Background(), []byte(`{"x":1}`)) }()

	buf := make([]byte, 64)
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "{\"x\":1}\n" {
		t.Fatalf("wire = %q", buf[:n])
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestLegacyFramingOneReadOneFrame(t *testing.T) {
	sc, peer := pipe(t, Legacy, 64)
	writeAsync(peer, `{"message":"hi"}`)

	got, err := sc.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != `{"message":"hi"}` {
		t.Fatalf("frame = %q", got)
	}
}

func TestLegacyFramingAcceptsMaximumSize(t *testing.T) {
	sc, peer := pipe(t, Legacy, 8)
	writeAsync(peer, "12345678")

	got, err := sc.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "12345678" {
		t.Fatalf("got %q", got)
	}
}

func TestLegacyFramingOverMaximumIsTooLarge(t *testing.T) {
	sc, peer := pipe(t, Legacy, 8)
	writeAsync(peer, "123456789")

	_, err := sc.ReadFrame(context.Background())
	if !errors.Is(err, frame.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLegacyFramingWriteHasNoTerminator(t *testing.T) {
	sc, peer := pipe(t, Legacy, 64)
	go func() { _ = sc.WriteFrame(context.Background(), []byte("{}")) }()

	buf := make([]byte, 16)
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "{}" {
		t.Fatalf("wire = %q", buf[:n])
	}
}

func TestWriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	sc := NewStreamConn(server, Line, 64, 20*time.Millisecond)

	// Nobody reads from client, so the write must hit its deadline.
	err := sc.WriteFrame(context.Background(), []byte("{}"))
	if err == nil {
		t.Fatal("expected write timeout")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestParseFraming(t *testing.T) {
	cases := map[string]Framing{"": Line, "line": Line, "legacy": Legacy}
	for in, want := range cases {
		got, err := ParseFraming(in)
		if err != nil || got != want {
			t.Errorf("ParseFraming(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFraming("length"); err == nil {
		t.Error("expected error for unknown framing")
	}
}
