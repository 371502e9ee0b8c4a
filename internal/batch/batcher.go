// Package batch coalesces intake-queue jobs into bulk chat-store writes.
package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Batcher accumulates jobs and flushes them in bulk, either when the buffer
// reaches maxBatch or when the flush timer fires, whichever comes first.
//
// The buffer, timer handle and in-flight flag are the only shared state and
// are guarded by mu. A flush captures the buffer and resets it before doing
// any I/O, so jobs arriving mid-flush land in a fresh buffer. A flush
// requested while one is running is a no-op; whatever accumulated meanwhile
// is picked up when the running flush completes.
type Batcher[T any] struct {
	logger   *zap.SugaredLogger
	flush    func(ctx context.Context, jobs []T) error
	maxBatch int
	interval time.Duration

	mu       sync.Mutex
	buf      []T
	timer    *time.Timer
	inFlight bool
}

func NewBatcher[T any](logger *zap.SugaredLogger, maxBatch int, interval time.Duration, flush func(context.Context, []T) error) *Batcher[T] {
	return &Batcher[T]{
		logger:   logger,
		flush:    flush,
		maxBatch: maxBatch,
		interval: interval,
	}
}

// Add appends one job. A full buffer triggers an immediate flush and cancels
// any armed timer; otherwise the timer is armed if it was not already.
func (b *Batcher[T]) Add(ctx context.Context, job T) {
	b.mu.Lock()
	b.buf = append(b.buf, job)

	if len(b.buf) >= b.maxBatch {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		b.Flush(ctx)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.onTimer)
	}
	b.mu.Unlock()
}

func (b *Batcher[T]) onTimer() {
	b.mu.Lock()
	b.timer = nil
	b.mu.Unlock()
	b.Flush(context.Background())
}

// Flush drains the current buffer. Empty buffer and in-flight flush are both
// no-ops. A failed flush drops the batch: the jobs are logged with enough
// context for manual replay and the worker moves on.
func (b *Batcher[T]) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.inFlight || len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	b.inFlight = true
	jobs := b.buf
	b.buf = nil
	b.mu.Unlock()

	defer b.rearm()

	if err := b.flush(ctx, jobs); err != nil {
		b.logger.Errorw("dropping batch after failed flush",
			"jobs", len(jobs),
			"batch", jobs,
			"error", err,
		)
		return
	}
	b.logger.Debugf("Flushed %d jobs", len(jobs))
}

// rearm clears the in-flight flag and re-triggers for whatever accumulated
// while the flush ran. Without this, a buffer that filled up mid-flush would
// sit forever: its Add already attempted a flush that the guard swallowed.
func (b *Batcher[T]) rearm() {
	b.mu.Lock()
	b.inFlight = false
	full := len(b.buf) >= b.maxBatch
	if !full && len(b.buf) > 0 && b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.onTimer)
	}
	b.mu.Unlock()

	if full {
		go b.Flush(context.Background())
	}
}

// Pending reports how many jobs are buffered and not yet captured by a flush.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
