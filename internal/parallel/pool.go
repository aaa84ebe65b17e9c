// Package parallel bounds fan-out work such as per-document aggregation.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work with a weighted semaphore. One Pool is shared
// by every caller so that concurrent overview and export requests together
// stay under the limit.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that runs at most limit functions at once.
func NewPool(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit)}
}

// Run acquires a slot, runs fn and releases the slot. It returns ctx.Err()
// if ctx is cancelled while waiting. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Map applies fn to every item through p and returns results in input order.
// The first error cancels the remaining work.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			return p.Run(gctx, func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := fn(gctx, item)
				if err != nil {
					return err
				}
				out[i] = r
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
