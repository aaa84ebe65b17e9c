package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a logging backend.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler chain it was logged through, so that
// attributes and groups added with With survive the hop to the worker.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

type pool struct {
	queue   chan entry
	done    sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
	// Records at or above this level wait for queue space instead of
	// being dropped.
	keep slog.Level
}

// AsyncHandler hands records to background workers. Info and debug records
// that find the queue full are dropped and counted; warnings and errors
// wait. Close drains the queue and reports the drop count.
type AsyncHandler struct {
	inner slog.Handler
	p     *pool
}

// NewAsyncHandler starts workers goroutines draining a queue of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	p := &pool{queue: make(chan entry, size), keep: slog.LevelWarn}
	p.done.Add(workers)
	for range workers {
		go func() {
			defer p.done.Done()
			for e := range p.queue {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, p: p}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.p.closed.Load() {
		return h.inner.Handle(ctx, rec)
	}
	e := entry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= h.p.keep {
		h.p.queue <- e
		return nil
	}
	select {
	case h.p.queue <- e:
	default:
		h.p.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), p: h.p}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), p: h.p}
}

// DroppedCount returns the number of records discarded so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.p.dropped.Load()
}

// Close stops accepting queued records and waits for the workers. Records
// logged afterwards are written synchronously.
func (h *AsyncHandler) Close() {
	if !h.p.closed.CompareAndSwap(false, true) {
		return
	}
	close(h.p.queue)
	h.p.done.Wait()
	if n := h.p.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
