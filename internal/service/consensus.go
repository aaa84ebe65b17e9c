package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/clock"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/parallel"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
)

// ConflictOverview counts conflicting lifecycles across all documents.
type ConflictOverview struct {
	TotalDocuments int            `json:"total_documents"`
	Conflicts      int            `json:"conflicts"`
	PerDocument    map[string]int `json:"per_document"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// ReviewerStats summarizes one reviewer's output.
type ReviewerStats struct {
	Actor             string     `json:"actor"`
	DocumentsReviewed int        `json:"reviewed_documents"`
	AssertionsAdded   int        `json:"assertions_added"`
	Commission        float64    `json:"commission"`
	Since             *time.Time `json:"since,omitempty"`
	Until             *time.Time `json:"until,omitempty"`
}

// ConsensusService derives lifecycles and verdicts from the action log.
type ConsensusService struct {
	log     actionlog.Log
	docs    documents.Store
	cache   *LifecycleCache
	pool    *parallel.Pool
	params  review.Params
	rewards config.Rewards
	clk     clock.Clock
	metrics *rfotel.Metrics
}

// NewConsensusService creates the service. docs may be nil, in which case
// only documents present in the log are known.
func NewConsensusService(log actionlog.Log, docs documents.Store, lc *LifecycleCache, pool *parallel.Pool, params review.Params, rewards config.Rewards, clk clock.Clock) *ConsensusService {
	if clk == nil {
		clk = clock.Real()
	}
	return &ConsensusService{
		log:     log,
		docs:    docs,
		cache:   lc,
		pool:    pool,
		params:  params,
		rewards: rewards,
		clk:     clk,
	}
}

// SetMetrics enables metric recording.
func (s *ConsensusService) SetMetrics(m *rfotel.Metrics) { s.metrics = m }

// Params returns the consensus parameters in use.
func (s *ConsensusService) Params() review.Params { return s.params }

// Lifecycles returns the grouped lifecycles of one document.
func (s *ConsensusService) Lifecycles(ctx context.Context, documentID string) ([]review.Lifecycle, error) {
	head, err := s.log.Head(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("log head %s: %w", documentID, err)
	}
	if lcs, ok := s.cache.Get(ctx, documentID, head); ok {
		s.count(ctx, true)
		return lcs, nil
	}
	s.count(ctx, false)

	ctx, span := rfotel.StartEvaluateSpan(ctx, documentID)
	defer span.End()

	recs, err := s.log.Scan(ctx, actionlog.Filter{DocumentID: documentID})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan %s: %w", documentID, err)
	}
	lcs := review.Group(recs)
	span.SetAttributes(attribute.Int("lifecycles.count", len(lcs)))
	s.cache.Put(ctx, documentID, head, lcs)
	return lcs, nil
}

func (s *ConsensusService) count(ctx context.Context, hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.Add(ctx, 1)
	} else {
		s.metrics.CacheMisses.Add(ctx, 1)
	}
}

// DocumentSummary evaluates every lifecycle of a document.
func (s *ConsensusService) DocumentSummary(ctx context.Context, documentID string) ([]review.Evaluation, error) {
	lcs, err := s.Lifecycles(ctx, documentID)
	if err != nil {
		return nil, err
	}
	evs := review.EvaluateAll(lcs, s.params)
	if s.metrics != nil {
		s.metrics.VerdictEvaluations.Add(ctx, int64(len(evs)))
	}
	return evs, nil
}

// AssertionSummary evaluates the lifecycle identified by key, which may be
// the lifecycle key or any identifier of one of its records.
func (s *ConsensusService) AssertionSummary(ctx context.Context, documentID, key string) (*review.Evaluation, error) {
	lcs, err := s.Lifecycles(ctx, documentID)
	if err != nil {
		return nil, err
	}
	lc, ok := review.Find(lcs, key)
	if !ok {
		return nil, fmt.Errorf("lifecycle %s in %s: %w", key, documentID, domain.ErrNotFound)
	}
	ev := review.Evaluate(lc, s.params)
	if s.metrics != nil {
		s.metrics.VerdictEvaluations.Add(ctx, 1)
	}
	return &ev, nil
}

// FinalDecisions returns the lifecycles of a document whose verdict is
// consensus or arbitrated, each represented by its last record.
func (s *ConsensusService) FinalDecisions(ctx context.Context, documentID string) ([]review.FinalDecision, error) {
	evs, err := s.DocumentSummary(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]review.FinalDecision, 0, len(evs))
	for i := range evs {
		if fd, ok := evs[i].Final(); ok {
			out = append(out, fd)
		}
	}
	return out, nil
}

// DocumentIDs returns the union of documents in the store and in the log,
// sorted.
func (s *ConsensusService) DocumentIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	if s.docs != nil {
		ids, err := s.docs.ListDocumentIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	heads, err := s.log.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list logged documents: %w", err)
	}
	for _, h := range heads {
		seen[h.DocumentID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// forEachDocument evaluates every known document through the shared pool.
func (s *ConsensusService) forEachDocument(ctx context.Context, op string) ([]string, [][]review.Evaluation, error) {
	ids, err := s.DocumentIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	start := s.clk.Now()
	ctx, span := rfotel.StartAggregateSpan(ctx, op, len(ids))
	defer span.End()

	evs, err := parallel.Map(ctx, s.pool, ids, s.DocumentSummary)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.AggregationDuration.Record(ctx, s.clk.Now().Sub(start).Seconds(),
			metric.WithAttributes(attribute.String("op", op)))
	}
	return ids, evs, nil
}

// ConflictOverview counts conflicting lifecycles per document.
func (s *ConsensusService) ConflictOverview(ctx context.Context) (*ConflictOverview, error) {
	ids, evs, err := s.forEachDocument(ctx, "overview")
	if err != nil {
		return nil, err
	}
	ov := &ConflictOverview{
		TotalDocuments: len(ids),
		PerDocument:    make(map[string]int, len(ids)),
		GeneratedAt:    s.clk.Now().UTC(),
	}
	for i, id := range ids {
		n := 0
		for j := range evs[i] {
			if evs[i][j].Verdict == review.VerdictConflict {
				n++
			}
		}
		ov.PerDocument[id] = n
		ov.Conflicts += n
	}
	return ov, nil
}

// AllFinalDecisions collects final decisions across every known document.
func (s *ConsensusService) AllFinalDecisions(ctx context.Context) ([]review.FinalDecision, error) {
	_, evs, err := s.forEachDocument(ctx, "export")
	if err != nil {
		return nil, err
	}
	var out []review.FinalDecision
	for i := range evs {
		for j := range evs[i] {
			if fd, ok := evs[i][j].Final(); ok {
				out = append(out, fd)
			}
		}
	}
	return out, nil
}

// ExportFinal writes every final decision to w as one JSON object per line
// and returns the number written.
func (s *ConsensusService) ExportFinal(ctx context.Context, w io.Writer) (int, error) {
	finals, err := s.AllFinalDecisions(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range finals {
		if err := enc.Encode(&finals[i]); err != nil {
			return i, fmt.Errorf("write final decision: %w", err)
		}
	}
	return len(finals), nil
}

// ReviewerStats counts a reviewer's documents and additions in the optional
// window and prices them with the configured rates.
func (s *ConsensusService) ReviewerStats(ctx context.Context, actor string, since, until *time.Time) (*ReviewerStats, error) {
	actor = review.NormalizeActor(actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	if since != nil && until != nil && until.Before(*since) {
		return nil, fmt.Errorf("%w: until precedes since", domain.ErrValidation)
	}
	recs, err := s.log.Scan(ctx, actionlog.Filter{Actor: actor, Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("scan reviewer %s: %w", actor, err)
	}

	docs := make(map[string]struct{})
	adds := 0
	for i := range recs {
		if recs[i].DocumentID != "" {
			docs[recs[i].DocumentID] = struct{}{}
		}
		if recs[i].Action == review.ActionAdd {
			adds++
		}
	}
	commission := float64(len(docs))*s.rewards.PerDocument + float64(adds)*s.rewards.PerAdd
	return &ReviewerStats{
		Actor:             actor,
		DocumentsReviewed: len(docs),
		AssertionsAdded:   adds,
		Commission:        math.Round(commission*100) / 100,
		Since:             since,
		Until:             until,
	}, nil
}
