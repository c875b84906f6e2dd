package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/christopherjohns/chatrelay/internal/logging"
)

// Job is one unit of work run against the gateway on the worker goroutine.
type Job func(ctx context.Context, g Gateway) error

// Observer is notified about fire-and-forget outcomes.
type Observer interface {
	StoreDropped(op string)
	StoreFailed(op string)
}

type job struct {
	op     string
	ctx    context.Context
	fn     Job
	result chan error // nil for fire-and-forget
}

// Worker serializes every gateway call onto one goroutine. Handlers
// either wait for a result with Do or submit and move on with Go.
type Worker struct {
	gw      Gateway
	log     logging.Logger
	obs     Observer
	timeout time.Duration

	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithTimeout bounds each job. Awaited calls that exceed it fail with a
// StorageError wrapping ErrTimeout. Zero disables the bound.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

// WithLogger sets the logger used for fire-and-forget failures.
func WithLogger(l logging.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// WithObserver sets a hook for dropped and failed background jobs.
func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) { w.obs = o }
}

// NewWorker starts a worker over gw with room for queueSize pending jobs.
func NewWorker(gw Gateway, queueSize int, opts ...WorkerOption) *Worker {
	if queueSize < 1 {
		queueSize = 1
	}
	w := &Worker{
		gw:   gw,
		log:  logging.Discard(),
		jobs: make(chan job, queueSize),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		err := w.exec(j)
		if j.result != nil {
			j.result <- err
			continue
		}
		if err != nil {
			w.log.Warn(j.ctx, "background store call failed", "op", j.op, "error", err)
			if w.obs != nil {
				w.obs.StoreFailed(j.op)
			}
		}
	}
}

func (w *Worker) exec(j job) error {
	ctx := j.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.result == nil && w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return j.fn(ctx, w.gw)
}

// Do runs fn on the worker and waits for its result. The wait is bounded
// by ctx and the worker timeout; expiry is reported as a StorageError
// wrapping ErrTimeout.
func (w *Worker) Do(ctx context.Context, op string, fn Job) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	j := job{op: op, ctx: ctx, fn: fn, result: make(chan error, 1)}
	if err := w.enqueue(ctx, j); err != nil {
		return w.failure(op, err)
	}

	select {
	case err := <-j.result:
		if err != nil && ctx.Err() != nil {
			return w.failure(op, ctx.Err())
		}
		return wrap(op, err)
	case <-ctx.Done():
		return w.failure(op, ctx.Err())
	}
}

func (w *Worker) failure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return &StorageError{Op: op, Err: err}
}

func (w *Worker) enqueue(ctx context.Context, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go submits fn without waiting. Delivery is at most once: when the
// queue is full or the worker is closed the job is dropped and logged.
func (w *Worker) Go(op string, fn Job) {
	j := job{op: op, ctx: context.Background(), fn: fn}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(op, ErrClosed)
		return
	}
	select {
	case w.jobs <- j:
	default:
		w.drop(op, errors.New("queue full"))
	}
}

func (w *Worker) drop(op string, reason error) {
	w.log.Warn(context.Background(), "store job dropped", "op", op, "reason", reason)
	if w.obs != nil {
		w.obs.StoreDropped(op)
	}
}

// Close stops accepting work, runs the jobs already queued and closes
// the gateway. It is safe to call more than once.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.gw.Close(ctx)
}
