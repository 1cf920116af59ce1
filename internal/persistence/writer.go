package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

const defaultEnqueueTimeout = 2 * time.Second

// ErrQueueFull reports a write dropped because the queue stayed full.
var ErrQueueFull = errors.New("writer queue full")

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs archive writes one at a time off the caller's goroutine.
type WriterQueue struct {
	logger         *slog.Logger
	queue          chan writeCmd
	onFailure      func(name string, err error)
	enqueueTimeout time.Duration
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &WriterQueue{
		logger:         logger,
		queue:          make(chan writeCmd, capacity),
		enqueueTimeout: defaultEnqueueTimeout,
	}
}

// OnFailure registers fn to be called when a write exhausts its retries.
// It must be set before Start.
func (w *WriterQueue) OnFailure(fn func(name string, err error)) {
	w.onFailure = fn
}

// Enqueue waits up to enqueueTimeout for room in the queue. A write that
// still does not fit is dropped and reported through the failure hook with
// ErrQueueFull, so accepted writes always run in Enqueue order.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
		return
	default:
	}

	timer := time.NewTimer(w.enqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- cmd:
	case <-timer.C:
		w.logger.Error("db write dropped", "cmd", name, "error", ErrQueueFull)
		if w.onFailure != nil {
			w.onFailure(name, ErrQueueFull)
		}
	}
}

// Flush blocks until every write accepted by Enqueue before the call has run,
// or ctx is done.
func (w *WriterQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	barrier := writeCmd{name: "flush", fn: func(context.Context) error {
		close(done)
		return nil
	}}

	select {
	case w.queue <- barrier:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			if w.onFailure != nil {
				w.onFailure(cmd.name, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
}
