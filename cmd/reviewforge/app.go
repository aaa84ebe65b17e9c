package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ReviewForge/internal/adapter/docfile"
	"github.com/Strob0t/ReviewForge/internal/adapter/gocache"
	"github.com/Strob0t/ReviewForge/internal/adapter/jsonl"
	rfnats "github.com/Strob0t/ReviewForge/internal/adapter/nats"
	"github.com/Strob0t/ReviewForge/internal/adapter/natskv"
	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/adapter/postgres"
	"github.com/Strob0t/ReviewForge/internal/adapter/ristretto"
	"github.com/Strob0t/ReviewForge/internal/adapter/tiered"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/middleware"
	"github.com/Strob0t/ReviewForge/internal/parallel"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/cache"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
	"github.com/Strob0t/ReviewForge/internal/port/locks"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
	"github.com/Strob0t/ReviewForge/internal/resilience"
	"github.com/Strob0t/ReviewForge/internal/service"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     actionlog.Log
	docs    documents.Store
	nats    *rfnats.Queue // nil when NATS is disabled
	queue   messagequeue.Queue
	mirror  locks.Mirror
	breaker *resilience.Breaker

	actions     *service.ActionLogService
	consensus   *service.ConsensusService
	arbitration *service.ArbitrationService
	assignment  *service.AssignmentService

	closers []func()
}

// newApp connects the configured backends. hub may be nil for one-shot
// commands.
func newApp(ctx context.Context, cfg *config.Config, hub broadcast.Broadcaster) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	raw, err := a.openLog(ctx)
	if err != nil {
		return nil, err
	}
	a.breaker = resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.WithIgnore(func(err error) bool { return errors.Is(err, context.Canceled) }))
	a.log = service.GuardLog(raw, a.breaker)

	if cfg.Documents.Path != "" {
		a.docs = docfile.New(cfg.Documents.Path)
	}

	if cfg.NATS.Enabled {
		q, err := rfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.nats, a.queue = q, q
		a.closers = append(a.closers, func() { _ = q.Drain() })
	}

	c, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	if a.mirror, err = a.openMirror(ctx); err != nil {
		return nil, err
	}

	lc := service.NewLifecycleCache(c, cfg.Cache.L2TTL)
	a.actions = service.NewActionLogService(a.log, lc, a.queue, hub, nil)
	a.consensus = service.NewConsensusService(a.log, a.docs, lc,
		parallel.NewPool(int64(cfg.Aggregation.MaxConcurrent)),
		review.Params{
			MinReviewers:             cfg.Consensus.MinReviewers,
			RequireExactContentMatch: cfg.Consensus.RequireExactContentMatch,
		},
		cfg.Rewards, nil)
	a.arbitration = service.NewArbitrationService(a.consensus, a.actions, hub)
	a.assignment = service.NewAssignmentService(a.docs, a.log, a.mirror, a.actions, hub, nil, nil, cfg.Assignment)

	if cfg.OTEL.Enabled {
		m, err := rfotel.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("otel metrics: %w", err)
		}
		a.actions.SetMetrics(m)
		a.consensus.SetMetrics(m)
		a.assignment.SetMetrics(m)
	}

	if a.queue != nil {
		stop, err := service.StartEvictionListener(ctx, a.queue, lc, a.actions.Origin())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, stop)
	}
	return a, nil
}

func (a *app) openLog(ctx context.Context) (actionlog.Log, error) {
	switch a.cfg.ActionLog.Backend {
	case "jsonl":
		l, err := jsonl.Open(a.cfg.ActionLog.Path, a.cfg.ActionLog.Fsync)
		if err != nil {
			return nil, fmt.Errorf("jsonl log: %w", err)
		}
		if n := l.Skipped(); n > 0 {
			slog.Warn("action log has undecodable lines", "path", a.cfg.ActionLog.Path, "skipped", n)
		}
		slog.Info("action log opened", "backend", "jsonl", "path", a.cfg.ActionLog.Path)
		return l, nil
	default:
		if err := postgres.RunMigrations(ctx, a.cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		slog.Info("action log opened", "backend", "postgres")
		return postgres.NewActionLog(pool), nil
	}
}

// openCache builds the lifecycle cache: ristretto in process, backed by a
// shared NATS KV tier when NATS is enabled.
func (a *app) openCache(ctx context.Context) (cache.Cache, error) {
	l1, err := ristretto.New(a.cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.closers = append(a.closers, l1.Close)
	if a.nats == nil {
		return l1, nil
	}
	kv, err := natskv.OpenBucket(ctx, a.nats.JetStream(), a.cfg.Cache.L2Bucket, a.cfg.Cache.L2TTL)
	if err != nil {
		return nil, err
	}
	return tiered.New(l1, natskv.New(kv), a.cfg.Cache.L1TTL), nil
}

// openMirror shares lock holders across replicas through NATS KV. Without
// NATS the in-memory lock table is the only one and no mirror is needed.
func (a *app) openMirror(ctx context.Context) (locks.Mirror, error) {
	if a.nats == nil {
		return nil, nil
	}
	kv, err := natskv.OpenBucket(ctx, a.nats.JetStream(), a.cfg.Assignment.LockBucket, a.cfg.Assignment.Timeout)
	if err != nil {
		return nil, err
	}
	return natskv.NewLockMirror(kv), nil
}

// replayStore opens the idempotency bucket shared by every replica, or an
// in-process cache without NATS.
func (a *app) replayStore(ctx context.Context) (middleware.ResponseStore, error) {
	ttl := a.cfg.Idempotency.TTL
	if a.nats == nil {
		return gocache.New(ttl, min(ttl, 10*time.Minute)), nil
	}
	kv, err := natskv.OpenBucket(ctx, a.nats.JetStream(), a.cfg.Idempotency.Bucket, ttl)
	if err != nil {
		return nil, err
	}
	return natskv.New(kv), nil
}

// Close releases backends in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// shutdownTimeout bounds graceful shutdown of servers and exporters.
const shutdownTimeout = 10 * time.Second
