package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/christopherjohns/chatrelay/internal/auth"
	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/ratelimit"
	"github.com/christopherjohns/chatrelay/internal/store"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

// fakeConn is an in-memory transport.Conn.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	fail    bool
	closed  bool
	reads   chan []byte

	// ctxWrites fails writes whose context is done, as WebSocket
	// writes do.
	ctxWrites bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (f *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	data, ok := <-f.reads
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (f *fakeConn) WriteFrame(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("broken pipe")
	}
	if f.ctxWrites && ctx.Err() != nil {
		return ctx.Err()
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "127.0.0.1:40000" }

func (f *fakeConn) frames(t *testing.T) []wireFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireFrame, 0, len(f.written))
	for _, data := range f.written {
		var wf wireFrame
		if err := json.Unmarshal(data, &wf); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		out = append(out, wf)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// wireFrame is any server-to-client frame.
type wireFrame struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// recordingPersister captures fire-and-forget jobs.
type recordingPersister struct {
	mu  sync.Mutex
	ops []string
}

func (p *recordingPersister) Go(op string, fn store.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops)
}

type testServer struct {
	srv    *Server
	hub    *Hub
	mem    *store.Memory
	worker *store.Worker
	addr   string
}

type serverOptions struct {
	framing      transport.Framing
	historyLimit int
	limiter      *ratelimit.Limiter
	mem          *store.Memory
}

func startServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	log := logging.Discard()

	mem := opts.mem
	if mem == nil {
		mem = store.NewMemory()
	}
	limit := opts.historyLimit
	if limit == 0 {
		limit = 50
	}

	worker := store.NewWorker(mem, 64, store.WithTimeout(5*time.Second))
	hub := NewHub(worker, log, nil)
	gate := auth.NewGate(worker, log)
	replayer := NewReplayer(worker, limit, 0, log, nil)
	handler := NewHandler(hub, gate, replayer, log, nil)

	srv := NewServer(ServerConfig{
		Addr:         "127.0.0.1:0",
		Framing:      opts.framing,
		MaxFrameSize: 1024,
		WriteTimeout: time.Second,
	}, handler, opts.limiter, log, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() { _ = srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = worker.Close(context.Background())
	})

	return &testServer{srv: srv, hub: hub, mem: mem, worker: worker, addr: srv.Addr().String()}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// tcpClient speaks the line framing.
type tcpClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *tcpClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &tcpClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *tcpClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	c.sendRaw(string(data))
}

func (c *tcpClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *tcpClient) say(text string) {
	c.send(map[string]string{"message": text})
}

func (c *tcpClient) read() wireFrame {
	c.t.Helper()
	wf, err := c.tryRead(2 * time.Second)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return wf
}

func (c *tcpClient) tryRead(timeout time.Duration) (wireFrame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return wireFrame{}, err
	}
	var wf wireFrame
	if err := json.Unmarshal(line, &wf); err != nil {
		return wireFrame{}, err
	}
	return wf, nil
}

// expectSilence asserts no frame arrives within a short window.
func (c *tcpClient) expectSilence() {
	c.t.Helper()
	wf, err := c.tryRead(150 * time.Millisecond)
	if err == nil {
		c.t.Fatalf("unexpected frame: %+v", wf)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		c.t.Fatalf("expected read timeout, got %v", err)
	}
}

// expectClosed asserts the server closed the connection.
func (c *tcpClient) expectClosed() {
	c.t.Helper()
	_, err := c.tryRead(2 * time.Second)
	if !errors.Is(err, io.EOF) {
		c.t.Fatalf("expected EOF, got %v", err)
	}
}

func (c *tcpClient) authenticate(username, password string, register bool) wireFrame {
	c.t.Helper()
	c.send(map[string]any{"username": username, "password": password, "register": register})
	return c.read()
}

// join registers username and waits until the server counts it.
func join(t *testing.T, ts *testServer, username string) *tcpClient {
	t.Helper()
	before := ts.hub.Count()
	c := dial(t, ts.addr)
	res := c.authenticate(username, "pw-"+username, true)
	if !res.Success {
		t.Fatalf("register %s failed: %+v", username, res)
	}
	waitFor(t, username+" registered", func() bool { return ts.hub.Count() > before })
	return c
}
