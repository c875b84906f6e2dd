// Package app wires the relay's components together and runs them until
// a termination signal arrives.
package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/christopherjohns/chatrelay/internal/auth"
	"github.com/christopherjohns/chatrelay/internal/chat"
	"github.com/christopherjohns/chatrelay/internal/config"
	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/metrics"
	"github.com/christopherjohns/chatrelay/internal/ratelimit"
	"github.com/christopherjohns/chatrelay/internal/server"
	"github.com/christopherjohns/chatrelay/internal/store"
	"github.com/christopherjohns/chatrelay/internal/transport"
)

const shutdownGrace = 5 * time.Second

type App struct {
	cfg     *config.Config
	log     logging.Logger
	metrics *metrics.Metrics

	worker  *store.Worker
	hub     *chat.Hub
	chat    *chat.Server
	limiter *ratelimit.Limiter

	ops   *server.Server
	opsLn net.Listener
}

// New opens the store and binds the listeners. Failures here are the
// only process-level errors.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	framing, err := transport.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	openCtx := ctx
	if cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
	}
	gw, err := store.Open(openCtx, cfg.Store)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "store opened", "driver", cfg.Store.Driver)

	m := metrics.New()
	worker := store.NewWorker(gw, cfg.Store.QueueSize,
		store.WithTimeout(cfg.Store.Timeout),
		store.WithLogger(log.With("module", "store")),
		store.WithObserver(m),
	)

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		worker:  worker,
	}
	if cfg.ConnLimit > 0 {
		a.limiter = ratelimit.New(cfg.ConnLimit, cfg.ConnWindow)
	}

	chatLog := log.With("module", "chat")
	a.hub = chat.NewHub(worker, chatLog, m)
	gate := auth.NewGate(worker, log.With("module", "auth"))
	replayer := chat.NewReplayer(worker, cfg.HistoryLimit, cfg.HistoryPace, chatLog, m)
	handler := chat.NewHandler(a.hub, gate, replayer, chatLog, m)

	a.chat = chat.NewServer(chat.ServerConfig{
		Addr:         cfg.Addr(),
		Framing:      framing,
		MaxFrameSize: cfg.MaxFrameSize,
		WriteTimeout: cfg.WriteTimeout,
	}, handler, a.limiter, chatLog, m)

	if err := a.chat.Listen(); err != nil {
		_ = worker.Close(context.Background())
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}

	if cfg.HTTPAddr != "" {
		opts := []server.Option{server.WithMetrics(m)}
		if cfg.WebSocket {
			opts = append(opts, server.WithWebSocket(a.chat, cfg.MaxFrameSize, cfg.WriteTimeout))
		}
		a.ops = server.New(cfg.HTTPAddr, a.hub, log.With("module", "http"), opts...)

		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			_ = a.chat.Shutdown(context.Background())
			_ = worker.Close(context.Background())
			return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
		}
		a.opsLn = ln
	}

	return a, nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled, a signal arrives or a listener
// fails, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.initSignalHandler(cancel)

	errs := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.chat.Serve(ctx); err != nil {
			errs <- fmt.Errorf("chat server: %w", err)
			cancel()
		}
	}()

	if a.ops != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.ops.Serve(a.opsLn); err != nil {
				errs <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	if a.limiter != nil {
		go a.pruneLimiter(ctx)
	}

	<-ctx.Done()
	a.log.Info(context.Background(), "shutting down")
	a.shutdown()
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func (a *App) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ConnWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Prune()
		}
	}
}

// shutdown closes the listeners, lets handlers finish within the grace
// period, then drains the store worker and closes the store.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			a.log.Warn(ctx, "http shutdown", "error", err)
		}
	}
	if err := a.chat.Shutdown(ctx); err != nil {
		a.log.Warn(ctx, "chat shutdown", "error", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer closeCancel()
	if err := a.worker.Close(closeCtx); err != nil {
		a.log.Error(closeCtx, "store close", "error", err)
	}
	a.log.Info(closeCtx, "shutdown complete")
}

// ChatAddr returns the bound chat address.
func (a *App) ChatAddr() net.Addr {
	return a.chat.Addr()
}

// HTTPAddr returns the bound ops address, or nil when disabled.
func (a *App) HTTPAddr() net.Addr {
	if a.opsLn == nil {
		return nil
	}
	return a.opsLn.Addr()
}
