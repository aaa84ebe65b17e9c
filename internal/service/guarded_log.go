package service

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/resilience"
)

// guardedLog routes every action log call through a circuit breaker so that
// a failing backend is shed quickly instead of stalling each request.
type guardedLog struct {
	log     actionlog.Log
	breaker *resilience.Breaker
}

// GuardLog wraps log with breaker. A nil breaker returns log unchanged.
func GuardLog(log actionlog.Log, breaker *resilience.Breaker) actionlog.Log {
	if breaker == nil {
		return log
	}
	return &guardedLog{log: log, breaker: breaker}
}

func (g *guardedLog) Append(ctx context.Context, r *review.Record) error {
	return g.breaker.Execute(func() error { return g.log.Append(ctx, r) })
}

func (g *guardedLog) Scan(ctx context.Context, f actionlog.Filter) ([]review.Record, error) {
	return resilience.Call(g.breaker, func() ([]review.Record, error) { return g.log.Scan(ctx, f) })
}

func (g *guardedLog) Head(ctx context.Context, documentID string) (int64, error) {
	return resilience.Call(g.breaker, func() (int64, error) { return g.log.Head(ctx, documentID) })
}

func (g *guardedLog) Documents(ctx context.Context) ([]actionlog.DocumentHead, error) {
	return resilience.Call(g.breaker, func() ([]actionlog.DocumentHead, error) { return g.log.Documents(ctx) })
}

func (g *guardedLog) Participants(ctx context.Context) (map[string][]string, error) {
	return resilience.Call(g.breaker, func() (map[string][]string, error) { return g.log.Participants(ctx) })
}
