package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	writeAttempts = 3
	// drainTimeout bounds the flush of queued writes after the queue context ends.
	drainTimeout = 2 * time.Second
)

type writeJob struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs journal writes on a single goroutine. Writes that do not
// fit the buffer are dropped and counted; the journal is best effort.
type WriterQueue struct {
	logger  *slog.Logger
	jobs    chan writeJob
	pending sync.WaitGroup
	dropped atomic.Uint64
	done    chan struct{}
	backoff func(attempt int) time.Duration
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 256
	}

	return &WriterQueue{
		logger: logger,
		jobs:   make(chan writeJob, capacity),
		done:   make(chan struct{}),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 300 * time.Millisecond
		},
	}
}

// Enqueue reports false when the write was dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) bool {
	w.pending.Add(1)
	select {
	case w.jobs <- writeJob{name: name, fn: fn}:
		return true
	default:
		w.pending.Done()
		n := w.dropped.Add(1)
		w.logger.Warn("journal queue full, write dropped", "cmd", name, "dropped_total", n)

		return false
	}
}

// Start consumes writes until ctx ends, then flushes what is still buffered
// and closes Done.
func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case job := <-w.jobs:
				w.run(ctx, job)
			}
		}
	}()
}

func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-w.jobs:
			w.run(ctx, job)
		default:
			return
		}
	}
}

// Done is closed once the queue goroutine has exited.
func (w *WriterQueue) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until every accepted write has been attempted.
func (w *WriterQueue) Wait() {
	w.pending.Wait()
}

func (w *WriterQueue) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *WriterQueue) run(ctx context.Context, job writeJob) {
	defer w.pending.Done()

	for attempt := 1; ; attempt++ {
		err := job.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("journal write failed", "cmd", job.name, "attempt", attempt, "error", err)
		if attempt == writeAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff(attempt)):
		}
	}
}
