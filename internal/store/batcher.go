package store

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// Batcher accumulates records and writes them in batches off the caller's
// goroutine, so a slow database never delays a turn.
type Batcher struct {
	writer     Writer
	maxSize    int
	flushDelay time.Duration
	now        func() time.Time
	mu         sync.Mutex
	items      []Record
	timer      *time.Timer
	closed     bool
	wg         sync.WaitGroup
}

// NewBatcher wraps w.
func NewBatcher(w Writer, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatchSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &Batcher{
		writer:     w,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		now:        time.Now,
		items:      make([]Record, 0, maxSize),
	}
}

// Save stamps and queues a record. It only fails once the batcher is closed.
func (b *Batcher) Save(_ context.Context, r Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.New(apperrors.CodePersistence, "store closed")
	}
	b.items = append(b.items, r.Stamped(b.now()))

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return nil
	}

	// Start or reset timer for delayed flush
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
	return nil
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.items) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = make([]Record, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
		defer cancel()
		ctx, span := trace.StartSpan(ctx, "store_batch_write")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		if err := b.writer.Write(ctx, items); err != nil {
			span.Fail(err)
			log.Warn("batch persist failed", "error", err, "count", len(items))
			return
		}
		log.Debug("batch persisted", "count", len(items))
	}()
}

// Flush forces immediate write of pending records.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close flushes pending records, waits for in-flight writes and closes the
// writer.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodePersistence, "timed out draining store")
	}
	return b.writer.Close(ctx)
}
