package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/clock"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// ActionLogService is the single write path into the review action log.
type ActionLogService struct {
	log     actionlog.Log
	cache   *LifecycleCache
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	clk     clock.Clock
	metrics *rfotel.Metrics
	origin  string
}

// NewActionLogService creates the service. queue may be nil when NATS is
// disabled.
func NewActionLogService(log actionlog.Log, lc *LifecycleCache, queue messagequeue.Queue, hub broadcast.Broadcaster, clk clock.Clock) *ActionLogService {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ActionLogService{
		log:    log,
		cache:  lc,
		queue:  queue,
		hub:    hub,
		clk:    clk,
		origin: uuid.NewString(),
	}
}

// SetMetrics enables metric recording.
func (s *ActionLogService) SetMetrics(m *rfotel.Metrics) { s.metrics = m }

// Origin identifies this process in review.action.appended messages.
func (s *ActionLogService) Origin() string { return s.origin }

// Append validates a reviewer-submitted record and stores it.
func (s *ActionLogService) Append(ctx context.Context, r *review.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.append(ctx, r)
}

// append stores r without the reviewer-side validation. Arbitration records
// enter here.
func (s *ActionLogService) append(ctx context.Context, r *review.Record) error {
	s.prepare(r)

	ctx, span := rfotel.StartAppendSpan(ctx, r.DocumentID, r.Action.String())
	defer span.End()

	if err := s.log.Append(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return fmt.Errorf("append %s: %w", r.Action, err)
	}
	span.SetAttributes(attribute.Int64("record.seq", r.Seq))

	if err := s.cache.Invalidate(ctx, r.DocumentID); err != nil {
		// Entries are validated against the log head, so a failed delete only
		// costs one stale read attempt.
		slog.Warn("lifecycle cache invalidation failed", "document_id", r.DocumentID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ActionsAppended.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", r.Action.String()),
		))
	}
	slog.Info("review action appended",
		"record_id", r.ID, "document_id", r.DocumentID, "action", r.Action.String(), "actor", r.Actor, "seq", r.Seq)

	s.publish(ctx, messagequeue.SubjectActionAppended, messagequeue.ActionAppendedPayload{
		RecordID:   r.ID,
		DocumentID: r.DocumentID,
		Action:     r.Action.String(),
		Actor:      r.Actor,
		Seq:        r.Seq,
		Origin:     s.origin,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventActionAppended, broadcast.ActionAppendedEvent{
		RecordID:   r.ID,
		DocumentID: r.DocumentID,
		Action:     r.Action.String(),
		Actor:      r.Actor,
		Seq:        r.Seq,
	})
	return nil
}

func (s *ActionLogService) prepare(r *review.Record) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clk.Now().UTC()
	}
	r.DocumentID = strings.TrimSpace(r.DocumentID)
	r.Actor = review.NormalizeActor(r.Actor)
	// Only an add defines an assertion's fingerprint. A review carrying
	// content without identifiers must still attach to the latest add.
	if r.Action == review.ActionAdd && r.ContentHash == "" {
		r.ContentHash = review.ComputeContentHash(r.DocumentID, r.SentenceIndex, r.Content)
	}
}

// publish sends payload on subject. Failures are logged; the record is
// already durable.
func (s *ActionLogService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("queue publish failed", "subject", subject, "error", err)
	}
}

// Scan returns matching records in log order.
func (s *ActionLogService) Scan(ctx context.Context, f actionlog.Filter) ([]review.Record, error) {
	recs, err := s.log.Scan(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("scan action log: %w", err)
	}
	return recs, nil
}
