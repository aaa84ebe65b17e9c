package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/clock"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/assignment"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
	"github.com/Strob0t/ReviewForge/internal/port/locks"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// AssignOptions tunes a single assignment request.
type AssignOptions struct {
	// Prefer is tried first when the reviewer may take it.
	Prefer string `json:"prefer,omitempty"`
}

// AssignmentService hands documents to reviewers and tracks their holds.
// All lock table access happens under mu; I/O happens outside it.
type AssignmentService struct {
	docs   documents.Store
	log    actionlog.Log
	mirror locks.Mirror
	logSvc *ActionLogService
	hub    broadcast.Broadcaster
	clk    clock.Clock
	cfg    config.Assignment

	mu    sync.Mutex
	table *assignment.Table
	rng   *rand.Rand

	metrics *rfotel.Metrics
}

// NewAssignmentService creates the service. mirror may be nil for a single
// replica. rng may be nil, in which case a randomly seeded source is used.
func NewAssignmentService(docs documents.Store, log actionlog.Log, mirror locks.Mirror, logSvc *ActionLogService, hub broadcast.Broadcaster, clk clock.Clock, rng *rand.Rand, cfg config.Assignment) *AssignmentService {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // fairness, not security
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = assignment.DefaultTimeout
	}
	return &AssignmentService{
		docs:   docs,
		log:    log,
		mirror: mirror,
		logSvc: logSvc,
		hub:    hub,
		clk:    clk,
		cfg:    cfg,
		table:  assignment.NewTable(cfg.MaxReviewers),
		rng:    rng,
	}
}

// SetMetrics enables metric recording.
func (s *AssignmentService) SetMetrics(m *rfotel.Metrics) { s.metrics = m }

// Timeout is the heartbeat timeout in force.
func (s *AssignmentService) Timeout() time.Duration { return s.cfg.Timeout }

// remoteHolds reads the shared mirror. Failures degrade to no remote holds.
func (s *AssignmentService) remoteHolds(ctx context.Context) map[string]locks.Holders {
	if s.mirror == nil {
		return nil
	}
	holds, err := s.mirror.Holds(ctx)
	if err != nil {
		slog.Warn("lock mirror read failed", "error", err)
		return nil
	}
	return holds
}

// extra counts fresh holders of doc known only to the mirror, excluding
// actor and holders already in the local table. Caller holds mu.
func (s *AssignmentService) extra(remote map[string]locks.Holders, doc, actor string, now time.Time) int {
	n := 0
	for a, hb := range remote[doc] {
		if a == actor || s.table.Holds(a, doc) || now.Sub(hb) > s.cfg.Timeout {
			continue
		}
		n++
	}
	return n
}

// remoteCurrent finds a fresh hold of actor recorded by another replica.
// Caller holds mu.
func (s *AssignmentService) remoteCurrent(remote map[string]locks.Holders, actor string, now time.Time) (string, bool) {
	var (
		best   string
		bestAt time.Time
	)
	for doc, hs := range remote {
		hb, ok := hs[actor]
		if !ok || now.Sub(hb) > s.cfg.Timeout {
			continue
		}
		if best == "" || hb.After(bestAt) {
			best, bestAt = doc, hb
		}
	}
	return best, best != ""
}

// expireLocked drops stale holds. Caller holds mu and passes the count to
// reportExpired after unlocking.
func (s *AssignmentService) expireLocked(now time.Time) int {
	return s.table.Expire(now, s.cfg.Timeout)
}

func (s *AssignmentService) reportExpired(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.LockExpiries.Add(ctx, int64(n))
	}
	slog.Info("expired stale document holds", "count", n)
}

func (s *AssignmentService) mirrorPut(ctx context.Context, doc, actor string, at time.Time) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, doc, actor, at); err != nil {
		slog.Warn("lock mirror write failed", "document_id", doc, "actor", actor, "error", err)
	}
}

func (s *AssignmentService) mirrorDelete(ctx context.Context, doc, actor string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Delete(ctx, doc, actor); err != nil {
		slog.Warn("lock mirror delete failed", "document_id", doc, "actor", actor, "error", err)
	}
}

func (s *AssignmentService) notify(ctx context.Context, subject, status string, doc, actor string, pool assignment.Pool) {
	s.mu.Lock()
	holders := s.table.Count(doc)
	s.mu.Unlock()

	if s.logSvc != nil {
		s.logSvc.publish(ctx, subject, messagequeue.AssignmentPayload{
			DocumentID: doc,
			Actor:      actor,
			Pool:       string(pool),
			Expired:    status == "expired",
		})
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventAssignmentChanged, broadcast.AssignmentEvent{
		DocumentID: doc,
		Actor:      actor,
		Status:     status,
		Pool:       string(pool),
		Holders:    holders,
	})
}

func normalizeHold(actor, doc string) (string, string, error) {
	actor = review.NormalizeActor(actor)
	doc = strings.TrimSpace(doc)
	if actor == "" || doc == "" {
		return "", "", fmt.Errorf("%w: actor and document_id are required", domain.ErrValidation)
	}
	return actor, doc, nil
}

// Touch creates or refreshes actor's hold on doc. It returns false when the
// document is full and actor is not among its holders.
func (s *AssignmentService) Touch(ctx context.Context, actor, doc string) (bool, error) {
	actor, doc, err := normalizeHold(actor, doc)
	if err != nil {
		return false, err
	}
	remote := s.remoteHolds(ctx)

	s.mu.Lock()
	now := s.clk.Now().UTC()
	expired := s.expireLocked(now)
	created := !s.table.Holds(actor, doc)
	ok := s.table.Touch(actor, doc, now, s.extra(remote, doc, actor, now))
	s.mu.Unlock()
	s.reportExpired(ctx, expired)

	if !ok {
		return false, nil
	}
	s.mirrorPut(ctx, doc, actor, now)
	if created {
		s.notify(ctx, messagequeue.SubjectAssignmentGranted, "assigned", doc, actor, "")
	}
	return true, nil
}

// Assign returns the document actor should review next. An existing hold is
// returned unchanged; otherwise a document is drawn from the eligible pools.
// assignment.ErrNoDocumentsAvailable is a normal outcome.
func (s *AssignmentService) Assign(ctx context.Context, actor string, opts AssignOptions) (*assignment.Assignment, error) {
	actor = review.NormalizeActor(actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	ctx, span := rfotel.StartAssignSpan(ctx, actor)
	defer span.End()

	ids, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	participants, err := s.log.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	remote := s.remoteHolds(ctx)

	s.mu.Lock()
	now := s.clk.Now().UTC()
	expired := s.expireLocked(now)
	res, created := s.assignLocked(actor, ids, participants, remote, now, opts)
	s.mu.Unlock()
	s.reportExpired(ctx, expired)

	if res == nil {
		if s.metrics != nil {
			s.metrics.AssignmentsExhausted.Add(ctx, 1)
		}
		slog.Info("no document available", "actor", actor, "candidates", len(ids))
		return nil, assignment.ErrNoDocumentsAvailable
	}

	res.ExpiresAt = now.Add(s.cfg.Timeout)
	span.SetAttributes(attribute.String("document.id", res.DocumentID), attribute.String("assignment.pool", string(res.Pool)))
	s.mirrorPut(ctx, res.DocumentID, actor, now)
	if created {
		if s.metrics != nil {
			s.metrics.AssignmentsGranted.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", string(res.Pool))))
		}
		slog.Info("document assigned", "actor", actor, "document_id", res.DocumentID, "pool", string(res.Pool))
		s.notify(ctx, messagequeue.SubjectAssignmentGranted, "assigned", res.DocumentID, actor, res.Pool)
	}
	return res, nil
}

// candidates lists assignable document ids: the document store when
// configured, else every document in the log.
func (s *AssignmentService) candidates(ctx context.Context) ([]string, error) {
	if s.docs != nil {
		ids, err := s.docs.ListDocumentIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		return ids, nil
	}
	heads, err := s.log.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list logged documents: %w", err)
	}
	ids := make([]string, len(heads))
	for i, h := range heads {
		ids[i] = h.DocumentID
	}
	return ids, nil
}

// assignLocked runs the selection. created is false when an existing hold
// was returned. Caller holds mu.
func (s *AssignmentService) assignLocked(actor string, ids []string, participants map[string][]string, remote map[string]locks.Holders, now time.Time, opts AssignOptions) (*assignment.Assignment, bool) {
	if doc, ok := s.table.Current(actor); ok {
		s.table.Touch(actor, doc, now, 0)
		return &assignment.Assignment{DocumentID: doc, Pool: assignment.PoolCurrent, Reused: true}, false
	}
	if doc, ok := s.remoteCurrent(remote, actor, now); ok {
		if s.table.Touch(actor, doc, now, s.extra(remote, doc, actor, now)) {
			return &assignment.Assignment{DocumentID: doc, Pool: assignment.PoolCurrent, Reused: true}, false
		}
	}

	history := make(map[string]map[string]struct{}, len(participants))
	for doc, actors := range participants {
		set := make(map[string]struct{}, len(actors))
		for _, a := range actors {
			set[review.NormalizeActor(a)] = struct{}{}
		}
		history[doc] = set
	}
	visited := func(doc string) bool {
		_, ok := history[doc][actor]
		return ok
	}
	take := func(doc string) bool {
		return s.table.Touch(actor, doc, now, s.extra(remote, doc, actor, now))
	}

	if p := strings.TrimSpace(opts.Prefer); p != "" && slices.Contains(ids, p) && !visited(p) && take(p) {
		return &assignment.Assignment{DocumentID: p, Pool: assignment.PoolPrefer}, true
	}

	var singles, empty, partial []string
	for _, doc := range ids {
		if visited(doc) {
			continue
		}
		held := s.table.Count(doc) + s.extra(remote, doc, actor, now)
		if held >= s.table.MaxReviewers() {
			continue
		}
		switch {
		case len(history[doc]) == 1:
			singles = append(singles, doc)
		case held == 0:
			empty = append(empty, doc)
		default:
			partial = append(partial, doc)
		}
	}

	if len(singles) > 0 && s.rng.Float64() < 0.5 {
		if doc, ok := s.pick(singles, take); ok {
			return &assignment.Assignment{DocumentID: doc, Pool: assignment.PoolSingles}, true
		}
	}
	mixed := make([]string, 0, len(empty)+len(singles)+len(partial))
	mixed = append(mixed, empty...)
	mixed = append(mixed, singles...)
	mixed = append(mixed, partial...)
	if doc, ok := s.pick(mixed, take); ok {
		return &assignment.Assignment{DocumentID: doc, Pool: assignment.PoolMixed}, true
	}

	if !s.cfg.RevisitFallback {
		return nil, false
	}
	revisit := make([]string, 0)
	for _, doc := range ids {
		if visited(doc) {
			revisit = append(revisit, doc)
		}
	}
	if doc, ok := s.pick(revisit, take); ok {
		return &assignment.Assignment{DocumentID: doc, Pool: assignment.PoolFallback}, true
	}
	return nil, false
}

// pick shuffles docs and returns the first one take accepts.
func (s *AssignmentService) pick(docs []string, take func(string) bool) (string, bool) {
	order := append([]string(nil), docs...)
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, doc := range order {
		if take(doc) {
			return doc, true
		}
	}
	return "", false
}

// Release drops actor's hold on doc and reports whether one existed.
func (s *AssignmentService) Release(ctx context.Context, actor, doc string) (bool, error) {
	actor, doc, err := normalizeHold(actor, doc)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	ok := s.table.Release(actor, doc, s.clk.Now().UTC())
	s.mu.Unlock()

	s.mirrorDelete(ctx, doc, actor)
	if ok {
		slog.Info("document released", "actor", actor, "document_id", doc)
		s.notify(ctx, messagequeue.SubjectAssignmentReleased, "released", doc, actor, "")
	}
	return ok, nil
}

// Current returns the document actor holds, refreshing its heartbeat.
func (s *AssignmentService) Current(ctx context.Context, actor string) (string, bool) {
	actor = review.NormalizeActor(actor)
	if actor == "" {
		return "", false
	}
	remote := s.remoteHolds(ctx)

	s.mu.Lock()
	now := s.clk.Now().UTC()
	expired := s.expireLocked(now)
	doc, ok := s.table.Current(actor)
	if !ok {
		doc, ok = s.remoteCurrent(remote, actor, now)
	}
	if ok {
		ok = s.table.Touch(actor, doc, now, s.extra(remote, doc, actor, now))
	}
	s.mu.Unlock()
	s.reportExpired(ctx, expired)

	if !ok {
		return "", false
	}
	s.mirrorPut(ctx, doc, actor, now)
	return doc, true
}

// WhoHolds lists the holders of doc across every replica sharing the mirror.
func (s *AssignmentService) WhoHolds(ctx context.Context, doc string) []assignment.Holder {
	doc = strings.TrimSpace(doc)
	remote := s.remoteHolds(ctx)

	s.mu.Lock()
	now := s.clk.Now().UTC()
	expired := s.expireLocked(now)
	out := s.table.Holders(doc)
	for a, hb := range remote[doc] {
		if s.table.Holds(a, doc) || now.Sub(hb) > s.cfg.Timeout {
			continue
		}
		out = append(out, assignment.Holder{Actor: a, LastHeartbeat: hb})
	}
	s.mu.Unlock()
	s.reportExpired(ctx, expired)

	if out == nil {
		out = []assignment.Holder{}
	}
	return out
}

// Snapshot returns a deep copy of this replica's lock table after expiry.
func (s *AssignmentService) Snapshot(ctx context.Context) map[string]assignment.Lock {
	s.mu.Lock()
	expired := s.expireLocked(s.clk.Now().UTC())
	snap := s.table.Snapshot()
	s.mu.Unlock()
	s.reportExpired(ctx, expired)
	return snap
}

// Sweep expires stale holds and returns how many were dropped.
func (s *AssignmentService) Sweep(ctx context.Context) int {
	s.mu.Lock()
	n := s.expireLocked(s.clk.Now().UTC())
	s.mu.Unlock()
	s.reportExpired(ctx, n)
	return n
}

// Run sweeps on every tick of the configured interval until ctx is done.
func (s *AssignmentService) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := s.clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}
