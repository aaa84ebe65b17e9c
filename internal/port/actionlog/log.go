// Package actionlog defines the port interface for the append-only review
// action log.
package actionlog

import (
	"context"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

// Filter narrows a Scan. Zero values match everything.
type Filter struct {
	DocumentID string          `json:"document_id,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Actions    []review.Action `json:"actions,omitempty"`
	Since      *time.Time      `json:"since,omitempty"`
	Until      *time.Time      `json:"until,omitempty"`
}

// Match reports whether r passes the filter.
func (f *Filter) Match(r *review.Record) bool {
	if f.DocumentID != "" && r.DocumentID != f.DocumentID {
		return false
	}
	if f.Actor != "" && review.NormalizeActor(r.Actor) != review.NormalizeActor(f.Actor) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == r.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && r.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// DocumentHead is a document seen in the log with its change marker.
type DocumentHead struct {
	DocumentID string `json:"document_id"`
	Seq        int64  `json:"seq"`
	Count      int    `json:"count"`
}

// Log is the port interface for the review action log. Records are never
// updated or deleted.
type Log interface {
	// Append persists r and sets r.Seq.
	Append(ctx context.Context, r *review.Record) error

	// Scan returns matching records ordered by creation time, then sequence.
	Scan(ctx context.Context, f Filter) ([]review.Record, error)

	// Head returns the latest sequence number for a document, or 0.
	Head(ctx context.Context, documentID string) (int64, error)

	// Documents lists every document that has at least one record.
	Documents(ctx context.Context) ([]DocumentHead, error)

	// Participants returns the distinct normalized actors per document.
	Participants(ctx context.Context) (map[string][]string, error)
}
