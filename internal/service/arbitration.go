package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// QueueOptions selects lifecycles for the arbitration queue.
type QueueOptions struct {
	DocumentID     string `json:"document_id,omitempty"`
	OnlyConflicts  bool   `json:"only_conflicts"`
	IncludePending bool   `json:"include_pending"`
	Limit          int    `json:"limit,omitempty"`
}

// DefaultQueueOptions lists conflicts only, without a limit.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{OnlyConflicts: true}
}

// QueueSummary counts queue items by verdict.
type QueueSummary struct {
	Total     int `json:"total"`
	Conflicts int `json:"conflicts"`
	Pending   int `json:"pending"`
	Uncertain int `json:"uncertain"`
	Consensus int `json:"consensus"`
}

// QueueResult is the arbitration queue, newest activity first.
type QueueResult struct {
	Items   []review.Evaluation `json:"items"`
	Summary QueueSummary        `json:"summary"`
}

// DecideRequest records an arbitrator's decision on one lifecycle.
type DecideRequest struct {
	DocumentID string        `json:"document_id"`
	Key        string        `json:"assertion_key"`
	Decision   review.Action `json:"decision"`
	Actor      string        `json:"-"`
	Comment    string        `json:"comment,omitempty"`
	Force      bool          `json:"overwrite,omitempty"`
}

// UndoRequest withdraws the arbitration in force on one lifecycle.
type UndoRequest struct {
	DocumentID string `json:"document_id"`
	Key        string `json:"assertion_key"`
	Actor      string `json:"-"`
	Reason     string `json:"reason,omitempty"`
}

// ArbitrationOutcome is the record written (or found) by Decide or Undo and
// the lifecycle's verdict afterwards.
type ArbitrationOutcome struct {
	Record  review.Record  `json:"record"`
	Created bool           `json:"created"`
	Key     string         `json:"assertion_key"`
	Verdict review.Verdict `json:"consensus_status"`
}

// ArbitrationService resolves conflicting lifecycles by appending arbitrate
// and arbitrate_undo records. Nothing is ever rewritten.
type ArbitrationService struct {
	consensus *ConsensusService
	logSvc    *ActionLogService
	hub       broadcast.Broadcaster
}

// NewArbitrationService creates the service.
func NewArbitrationService(consensus *ConsensusService, logSvc *ActionLogService, hub broadcast.Broadcaster) *ArbitrationService {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &ArbitrationService{consensus: consensus, logSvc: logSvc, hub: hub}
}

func (o QueueOptions) admits(v review.Verdict) bool {
	switch v {
	case review.VerdictArbitrated:
		return false
	case review.VerdictConflict:
		return true
	case review.VerdictPending, review.VerdictUncertain:
		return o.IncludePending
	default:
		return !o.OnlyConflicts
	}
}

// Queue lists lifecycles awaiting arbitration. Arbitrated lifecycles and
// lifecycles holding nothing but adds are never listed.
func (s *ArbitrationService) Queue(ctx context.Context, opts QueueOptions) (*QueueResult, error) {
	var perDoc [][]review.Evaluation
	if opts.DocumentID != "" {
		evs, err := s.consensus.DocumentSummary(ctx, opts.DocumentID)
		if err != nil {
			return nil, err
		}
		perDoc = [][]review.Evaluation{evs}
	} else {
		_, all, err := s.consensus.forEachDocument(ctx, "queue")
		if err != nil {
			return nil, err
		}
		perDoc = all
	}

	res := &QueueResult{Items: []review.Evaluation{}}
	for _, evs := range perDoc {
		for i := range evs {
			ev := evs[i]
			lc := review.Lifecycle{Records: ev.Records}
			if lc.OnlyAdds() || !opts.admits(ev.Verdict) {
				continue
			}
			res.Items = append(res.Items, ev)
		}
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		return res.Items[i].LastUpdated.After(res.Items[j].LastUpdated)
	})
	if opts.Limit > 0 && len(res.Items) > opts.Limit {
		res.Items = res.Items[:opts.Limit]
	}

	for i := range res.Items {
		res.Summary.Total++
		switch res.Items[i].Verdict {
		case review.VerdictConflict:
			res.Summary.Conflicts++
		case review.VerdictPending:
			res.Summary.Pending++
		case review.VerdictUncertain:
			res.Summary.Uncertain++
		case review.VerdictConsensus:
			res.Summary.Consensus++
		case review.VerdictArbitrated:
		}
	}
	return res, nil
}

func (s *ArbitrationService) lifecycle(ctx context.Context, documentID, key string) (review.Lifecycle, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" || strings.TrimSpace(key) == "" {
		return review.Lifecycle{}, fmt.Errorf("%w: document_id and assertion_key are required", domain.ErrValidation)
	}
	lcs, err := s.consensus.Lifecycles(ctx, documentID)
	if err != nil {
		return review.Lifecycle{}, err
	}
	lc, ok := review.Find(lcs, key)
	if !ok {
		return review.Lifecycle{}, fmt.Errorf("lifecycle %s in %s: %w", key, documentID, domain.ErrNotFound)
	}
	return lc, nil
}

// Decide records an arbitration decision. Without Force the lifecycle must be
// in conflict; repeating the decision already in force returns the existing
// record with Created false.
func (s *ArbitrationService) Decide(ctx context.Context, req DecideRequest) (*ArbitrationOutcome, error) {
	if !req.Decision.IsReview() {
		return nil, fmt.Errorf("%w: unsupported arbitration decision %q", domain.ErrValidation, req.Decision)
	}
	actor := review.NormalizeActor(req.Actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: arbitrator is required", domain.ErrValidation)
	}
	lc, err := s.lifecycle(ctx, req.DocumentID, req.Key)
	if err != nil {
		return nil, err
	}

	params := s.consensus.Params()
	prior := review.Decide(lc.Records, params)
	if !req.Force && prior != review.VerdictConflict {
		if active, ok := review.ActiveArbitration(lc.Records); ok && active.ArbitrateDecision == req.Decision {
			return &ArbitrationOutcome{Record: active, Key: lc.Key, Verdict: prior}, nil
		}
		return nil, fmt.Errorf("lifecycle %s is %s: %w", lc.Key, prior, review.ErrNotInConflict)
	}

	rec := review.Record{
		Action:            review.ActionArbitrate,
		DocumentID:        lc.DocumentID,
		SentenceIndex:     lc.Records[0].SentenceIndex,
		AssertionID:       lc.Key,
		Actor:             actor,
		Comment:           req.Comment,
		ArbitrateDecision: req.Decision,
		PriorVerdict:      prior,
	}
	if err := s.logSvc.append(ctx, &rec); err != nil {
		return nil, err
	}
	verdict := review.Decide(append(lc.Records[:len(lc.Records):len(lc.Records)], rec), params)

	if m := s.consensus.metrics; m != nil {
		m.Arbitrations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", req.Decision.String()),
			attribute.Bool("forced", req.Force),
		))
	}
	slog.Info("arbitration recorded",
		"document_id", lc.DocumentID, "assertion_key", lc.Key, "decision", req.Decision.String(),
		"prior", string(prior), "actor", actor, "forced", req.Force)

	s.logSvc.publish(ctx, messagequeue.SubjectArbitrationDecided, messagequeue.ArbitrationPayload{
		RecordID:     rec.ID,
		DocumentID:   lc.DocumentID,
		Key:          lc.Key,
		Decision:     req.Decision.String(),
		PriorVerdict: string(prior),
		Actor:        actor,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventArbitrationDecided, broadcast.ArbitrationEvent{
		RecordID:   rec.ID,
		DocumentID: lc.DocumentID,
		Key:        lc.Key,
		Decision:   req.Decision.String(),
		Actor:      actor,
		Verdict:    string(verdict),
	})
	return &ArbitrationOutcome{Record: rec, Created: true, Key: lc.Key, Verdict: verdict}, nil
}

// Undo appends an arbitrate_undo cancelling the arbitration in force.
func (s *ArbitrationService) Undo(ctx context.Context, req UndoRequest) (*ArbitrationOutcome, error) {
	actor := review.NormalizeActor(req.Actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: arbitrator is required", domain.ErrValidation)
	}
	lc, err := s.lifecycle(ctx, req.DocumentID, req.Key)
	if err != nil {
		return nil, err
	}
	active, ok := review.ActiveArbitration(lc.Records)
	if !ok {
		return nil, fmt.Errorf("lifecycle %s: %w", lc.Key, review.ErrNoArbitration)
	}

	rec := review.Record{
		Action:        review.ActionArbitrateUndo,
		DocumentID:    lc.DocumentID,
		SentenceIndex: active.SentenceIndex,
		AssertionID:   lc.Key,
		RelatedTo:     active.ID,
		Actor:         actor,
		Reason:        req.Reason,
		PriorVerdict:  review.VerdictArbitrated,
	}
	if err := s.logSvc.append(ctx, &rec); err != nil {
		return nil, err
	}
	verdict := review.Decide(append(lc.Records[:len(lc.Records):len(lc.Records)], rec), s.consensus.Params())

	if m := s.consensus.metrics; m != nil {
		m.ArbitrationUndos.Add(ctx, 1)
	}
	slog.Info("arbitration withdrawn",
		"document_id", lc.DocumentID, "assertion_key", lc.Key, "arbitration_id", active.ID, "actor", actor)

	s.logSvc.publish(ctx, messagequeue.SubjectArbitrationUndone, messagequeue.ArbitrationPayload{
		RecordID:     rec.ID,
		DocumentID:   lc.DocumentID,
		Key:          lc.Key,
		PriorVerdict: string(review.VerdictArbitrated),
		Actor:        actor,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventArbitrationUndone, broadcast.ArbitrationEvent{
		RecordID:   rec.ID,
		DocumentID: lc.DocumentID,
		Key:        lc.Key,
		Actor:      actor,
		Verdict:    string(verdict),
	})
	return &ArbitrationOutcome{Record: rec, Created: true, Key: lc.Key, Verdict: verdict}, nil
}

// History returns the arbitrate and arbitrate_undo records of a lifecycle in
// chronological order.
func (s *ArbitrationService) History(ctx context.Context, documentID, key string) ([]review.Record, error) {
	lc, err := s.lifecycle(ctx, documentID, key)
	if err != nil {
		return nil, err
	}
	out := make([]review.Record, 0)
	for i := range lc.Records {
		if a := lc.Records[i].Action; a == review.ActionArbitrate || a == review.ActionArbitrateUndo {
			out = append(out, lc.Records[i])
		}
	}
	return out, nil
}
