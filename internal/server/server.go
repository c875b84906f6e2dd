// Package server is the relay's operational HTTP surface: health,
// Prometheus metrics and the optional WebSocket transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

// Stats reports the number of authenticated connections.
type Stats interface {
	Count() int
}

// ConnServer runs a chat session over an accepted connection and
// returns when it ends.
type ConnServer interface {
	ServeConn(ctx context.Context, conn transport.Conn)
}

// Server is the operational HTTP server.
type Server struct {
	addr    string
	mux     *http.ServeMux
	stats   Stats
	metrics *metrics.Metrics
	log     logging.Logger

	chat         ConnServer
	maxFrame     int
	writeTimeout time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWebSocket serves chat sessions at /ws.
func WithWebSocket(cs ConnServer, maxFrame int, writeTimeout time.Duration) Option {
	return func(s *Server) {
		s.chat = cs
		s.maxFrame = maxFrame
		s.writeTimeout = writeTimeout
	}
}

// New creates a Server for addr.
func New(addr string, stats Stats, log logging.Logger, opts ...Option) *Server {
	s := &Server{
		addr:  addr,
		mux:   http.NewServeMux(),
		stats: stats,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts HTTP connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info(context.Background(), "http server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run listens on the configured address and serves.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops the server. Hijacked WebSocket connections are not
// tracked by net/http and are closed by the chat server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.chat != nil {
		s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.stats.Count(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.AcceptWebSocket(w, r, s.maxFrame, s.writeTimeout)
	if err != nil {
		s.log.Debug(r.Context(), "websocket accept failed", "error", err)
		return
	}
	s.metrics.RecordAccepted("websocket")
	s.chat.ServeConn(r.Context(), conn)
}
