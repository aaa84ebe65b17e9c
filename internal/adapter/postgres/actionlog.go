package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
)

// ActionLog implements actionlog.Log on the review_actions table. The table
// rejects UPDATE and DELETE.
type ActionLog struct {
	pool *pgxpool.Pool
}

// NewActionLog creates an ActionLog backed by the given connection pool.
func NewActionLog(pool *pgxpool.Pool) *ActionLog {
	return &ActionLog{pool: pool}
}

var _ actionlog.Log = (*ActionLog)(nil)

const actionColumns = `seq, id, action, document_id, sentence_index, sentence_text,
	subject, subject_type, predicate, object, object_type, negation,
	content_hash, assertion_id, related_to, actor, comment, reason,
	changed_fields, arbitrate_decision, prior_verdict, created_at`

// Append inserts r and stores the assigned sequence number in r.Seq.
func (l *ActionLog) Append(ctx context.Context, r *review.Record) error {
	var decision string
	if r.ArbitrateDecision != review.ActionUnknown {
		decision = r.ArbitrateDecision.String()
	}
	err := l.pool.QueryRow(ctx,
		`INSERT INTO review_actions (id, action, document_id, sentence_index, sentence_text,
			subject, subject_type, predicate, object, object_type, negation,
			content_hash, assertion_id, related_to, actor, comment, reason,
			changed_fields, arbitrate_decision, prior_verdict, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 RETURNING seq`,
		r.ID, r.Action.String(), r.DocumentID, r.SentenceIndex, r.SentenceText,
		r.Content.Subject, r.Content.SubjectType, r.Content.Predicate, r.Content.Object, r.Content.ObjectType, r.Content.Negation,
		r.ContentHash, r.AssertionID, r.RelatedTo, r.Actor, r.Comment, r.Reason,
		pgTextArray(r.ChangedFields), decision, string(r.PriorVerdict), r.CreatedAt,
	).Scan(&r.Seq)
	if err != nil {
		return fmt.Errorf("append review action: %w", err)
	}
	return nil
}

func scanRecord(row scannable, r *review.Record) error {
	var action, decision, verdict string
	err := row.Scan(
		&r.Seq, &r.ID, &action, &r.DocumentID, &r.SentenceIndex, &r.SentenceText,
		&r.Content.Subject, &r.Content.SubjectType, &r.Content.Predicate, &r.Content.Object, &r.Content.ObjectType, &r.Content.Negation,
		&r.ContentHash, &r.AssertionID, &r.RelatedTo, &r.Actor, &r.Comment, &r.Reason,
		&r.ChangedFields, &decision, &verdict, &r.CreatedAt,
	)
	if err != nil {
		return err
	}
	r.Action = review.ParseAction(action)
	r.ArbitrateDecision = review.ParseAction(decision)
	r.PriorVerdict = review.Verdict(verdict)
	return nil
}

// Scan returns matching records ordered by creation time, then sequence.
func (l *ActionLog) Scan(ctx context.Context, f actionlog.Filter) ([]review.Record, error) {
	var w whereBuilder
	if f.DocumentID != "" {
		w.add("document_id = $%d", f.DocumentID)
	}
	if f.Actor != "" {
		w.add("lower(actor) = $%d", review.NormalizeActor(f.Actor))
	}
	if len(f.Actions) > 0 {
		names := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			names[i] = a.String()
		}
		w.add("action = ANY($%d)", names)
	}
	w.addTime("created_at >= $%d", f.Since)
	w.addTime("created_at <= $%d", f.Until)

	rows, err := l.pool.Query(ctx,
		`SELECT `+actionColumns+` FROM review_actions`+w.String()+` ORDER BY created_at ASC, seq ASC`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("scan review actions: %w", err)
	}
	defer rows.Close()

	var out []review.Record
	for rows.Next() {
		var r review.Record
		if err := scanRecord(rows, &r); err != nil {
			return nil, fmt.Errorf("scan review action: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Head returns the latest sequence number recorded for documentID.
func (l *ActionLog) Head(ctx context.Context, documentID string) (int64, error) {
	var seq int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM review_actions WHERE document_id = $1`, documentID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", documentID, err)
	}
	return seq, nil
}

// Documents lists every document id in the log with its change marker.
func (l *ActionLog) Documents(ctx context.Context) ([]actionlog.DocumentHead, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT document_id, MAX(seq), COUNT(*) FROM review_actions GROUP BY document_id ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []actionlog.DocumentHead
	for rows.Next() {
		var h actionlog.DocumentHead
		if err := rows.Scan(&h.DocumentID, &h.Seq, &h.Count); err != nil {
			return nil, fmt.Errorf("scan document head: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Participants returns the distinct actors per document.
func (l *ActionLog) Participants(ctx context.Context) (map[string][]string, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT DISTINCT document_id, lower(btrim(actor)) FROM review_actions
		 WHERE btrim(actor) <> '' ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var doc, actor string
		if err := rows.Scan(&doc, &actor); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out[doc] = append(out[doc], strings.ToLower(actor))
	}
	return out, rows.Err()
}
