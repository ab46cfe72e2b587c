package queue

import (
	"context"
	"fmt"
	"time"
)

// ProcessFunc handles one pending recording. A nil error marks it completed;
// any error leaves it queued for the next sweep.
type ProcessFunc func(ctx context.Context, rec Recording, audio []byte) error

// ProgressFunc is called after every visited item with 1-based progress.
type ProgressFunc func(done, total int)

// ProcessPending runs fn over pending recordings oldest first and returns how
// many completed. When another sweep is running it returns 0 immediately. The
// stop signal and ctx are checked between items only; fn runs on a context
// that ctx cancellation does not reach, so an in-flight item always finishes.
func (q *Queue) ProcessPending(ctx context.Context, fn ProcessFunc, onProgress ProgressFunc) int {
	if !q.sweep.TryAcquire(1) {
		q.metrics.Sweep(ctx, false)
		q.logger.Debug("sweep already running; skipping")
		return 0
	}
	defer q.sweep.Release(1)
	q.metrics.Sweep(ctx, true)

	pending, err := q.Pending()
	if err != nil {
		q.logger.Error("list pending recordings", "error", err.Error())
		return 0
	}

	workCtx := context.WithoutCancel(ctx)
	total := len(pending)
	completed := 0
	for i, rec := range pending {
		if q.stopping.Load() || ctx.Err() != nil {
			q.logger.Info("sweep stopped", "remaining", total-i)
			break
		}
		if q.isHeld(rec.ID) {
			q.metrics.SweepItem(ctx, "held")
		} else if err := q.processOne(workCtx, fn, rec); err != nil {
			q.metrics.SweepItem(ctx, "retained")
			q.logger.Warn("pending recording retained", "recording_id", rec.ID, "error", err.Error())
		} else {
			q.metrics.SweepItem(ctx, "completed")
			completed++
		}
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	if total > 0 {
		q.logger.Info("sweep finished", "pending", total, "completed", completed)
	}
	return completed
}

// Reprocess runs fn for a single pending recording, waiting for any running
// sweep to finish first.
func (q *Queue) Reprocess(ctx context.Context, id string, fn ProcessFunc) error {
	rec, err := q.Get(id)
	if err != nil {
		return err
	}
	if q.isHeld(rec.ID) {
		return fmt.Errorf("recording %s is being processed", rec.ID)
	}
	if err := q.sweep.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sweep.Release(1)
	return q.processOne(ctx, fn, rec)
}

func (q *Queue) processOne(ctx context.Context, fn ProcessFunc, rec Recording) (err error) {
	audio, err := q.ReadAudio(rec.ID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process recording %s panicked: %v", rec.ID, r)
		}
	}()
	if err := fn(ctx, rec, audio); err != nil {
		return err
	}

	if err := q.MarkCompleted(rec.ID); err != nil {
		q.logger.Error("processed recording could not be removed", "recording_id", rec.ID, "error", err.Error())
	}
	return nil
}

// RunBackground sweeps every interval while recordings are pending and blocks
// until ctx is done or Stop is called.
func (q *Queue) RunBackground(ctx context.Context, fn ProcessFunc, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("background interval must be > 0, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if q.stopping.Load() {
			return nil
		}

		count, err := q.PendingCount()
		if err != nil {
			q.logger.Warn("count pending recordings", "error", err.Error())
			continue
		}
		if count > 0 {
			q.ProcessPending(ctx, fn, nil)
		}
	}
}

// Background is a handle to a running background processor.
type Background struct {
	queue  *Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// StartBackground launches RunBackground on its own goroutine. Starting a
// new processor stops the previous one.
func (q *Queue) StartBackground(ctx context.Context, fn ProcessFunc, interval time.Duration) (*Background, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("background interval must be > 0, got %s", interval)
	}
	q.StopBackground()

	runCtx, cancel := context.WithCancel(ctx)
	bg := &Background{queue: q, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(bg.done)
		if err := q.RunBackground(runCtx, fn, interval); err != nil {
			q.logger.Error("background processor exited", "error", err.Error())
		}
	}()

	q.bgMu.Lock()
	q.bg = bg
	q.bgMu.Unlock()
	return bg, nil
}

// Stop signals the processor and any sweep it is running, then waits for the
// in-flight item to finish.
func (b *Background) Stop() {
	if b == nil {
		return
	}
	b.queue.stopping.Store(true)
	b.cancel()
	<-b.done
	b.queue.stopping.Store(false)
}

// StopBackground stops the processor started by StartBackground, if any.
func (q *Queue) StopBackground() {
	q.bgMu.Lock()
	bg := q.bg
	q.bg = nil
	q.bgMu.Unlock()

	bg.Stop()
}
