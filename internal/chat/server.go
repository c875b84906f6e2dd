package chat

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/christopherjohns/chatrelay/internal/auth"
	"github.com/christopherjohns/chatrelay/internal/frame"
	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/ratelimit"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

// ServerConfig holds the Listener settings.
type ServerConfig struct {
	Addr         string
	Framing      transport.Framing
	MaxFrameSize int
	WriteTimeout time.Duration
}

// Server accepts TCP connections and runs a Handler for each.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	limiter *ratelimit.Limiter
	log     logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	ln       net.Listener
	conns    map[transport.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a Server. limiter may be nil.
func NewServer(cfg ServerConfig, h *Handler, limiter *ratelimit.Limiter, log logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		handler: h,
		limiter: limiter,
		log:     log,
		metrics: m,
		conns:   make(map[transport.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a
// shutdown and the accept error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("chat: Serve called before Listen")
	}

	s.log.Info(ctx, "chat server listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isShutdown() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn(ctx, "accept error, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if tc, ok := nc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		conn := transport.NewStreamConn(nc, s.cfg.Framing, s.cfg.MaxFrameSize, s.cfg.WriteTimeout)
		s.metrics.RecordAccepted("tcp")
		go s.ServeConn(ctx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// ServeConn runs a handler for conn and returns when it finishes. It is
// also the entry point for connections accepted elsewhere, such as
// WebSockets.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) {
	if !s.limiter.Allow(ratelimit.Host(conn.RemoteAddr())) {
		s.log.Info(ctx, "connection rate limited", "remote", conn.RemoteAddr())
		s.reject(ctx, conn, auth.ReasonRateLimited)
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	s.handler.Serve(ctx, conn)
}

func (s *Server) reject(ctx context.Context, conn transport.Conn, reason string) {
	if data, err := frame.Encode(frame.AuthResult{Error: reason}); err == nil {
		_ = conn.WriteFrame(ctx, data)
	}
	_ = conn.Close()
}

func (s *Server) track(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn transport.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Active returns the number of connections with a running handler,
// authenticated or not.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes the listener and waits for handlers to finish. If ctx
// expires first, remaining connections are closed and Shutdown waits for
// their handlers to run their disconnect path.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	open := make([]transport.Conn, 0, len(s.conns))
	for conn := range s.conns {
		open = append(open, conn)
	}
	s.mu.Unlock()

	for _, conn := range open {
		go conn.Close()
	}
	<-done
	return err
}
