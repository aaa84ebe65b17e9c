// Package assignment models reviewer locks on documents.
package assignment

import (
	"errors"
	"sort"
	"time"
)

// ErrNoDocumentsAvailable means no document can be handed to the reviewer.
// Callers treat it as a normal outcome.
var ErrNoDocumentsAvailable = errors.New("no documents available")

// Defaults used when the configuration leaves them unset.
const (
	DefaultTimeout      = 30 * time.Minute
	DefaultMaxReviewers = 2
)

// Pool names the candidate partition a document was drawn from.
type Pool string

const (
	PoolCurrent  Pool = "current"
	PoolPrefer   Pool = "prefer"
	PoolSingles  Pool = "singles"
	PoolMixed    Pool = "mixed"
	PoolFallback Pool = "fallback"
)

// Hold is one reviewer's tenure on a document.
type Hold struct {
	Actor      string     `json:"actor"`
	AssignedAt time.Time  `json:"assigned_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Lock tracks the reviewers currently working on a document.
type Lock struct {
	DocumentID string               `json:"document_id"`
	Reviewers  map[string]time.Time `json:"reviewers"`
	AssignedAt time.Time            `json:"assigned_at"`
	History    []Hold               `json:"history"`
}

// Holder is a reviewer with the time of their last heartbeat.
type Holder struct {
	Actor         string    `json:"actor"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Assignment is the result of a successful assign call.
type Assignment struct {
	DocumentID string    `json:"document_id"`
	Pool       Pool      `json:"pool"`
	Reused     bool      `json:"reused"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (l *Lock) clone() Lock {
	c := Lock{
		DocumentID: l.DocumentID,
		Reviewers:  make(map[string]time.Time, len(l.Reviewers)),
		AssignedAt: l.AssignedAt,
		History:    make([]Hold, len(l.History)),
	}
	for k, v := range l.Reviewers {
		c.Reviewers[k] = v
	}
	for i, h := range l.History {
		c.History[i] = h
		if h.ReleasedAt != nil {
			ts := *h.ReleasedAt
			c.History[i].ReleasedAt = &ts
		}
	}
	return c
}

func (l *Lock) closeHold(actor string, at time.Time) {
	for i := len(l.History) - 1; i >= 0; i-- {
		if l.History[i].Actor == actor && l.History[i].ReleasedAt == nil {
			ts := at
			l.History[i].ReleasedAt = &ts
			return
		}
	}
}

// Table is the in-memory lock table. It performs no synchronization; the
// owner serializes access.
type Table struct {
	locks map[string]*Lock
	max   int
}

// NewTable returns an empty table capped at maxReviewers per document.
func NewTable(maxReviewers int) *Table {
	if maxReviewers <= 0 {
		maxReviewers = DefaultMaxReviewers
	}
	return &Table{locks: make(map[string]*Lock), max: maxReviewers}
}

// MaxReviewers returns the per-document cap.
func (t *Table) MaxReviewers() int { return t.max }

// Expire drops holds whose last heartbeat is older than timeout and removes
// locks left empty. It returns the number of expired holds.
func (t *Table) Expire(now time.Time, timeout time.Duration) int {
	n := 0
	for doc, l := range t.locks {
		for actor, hb := range l.Reviewers {
			if now.Sub(hb) > timeout {
				delete(l.Reviewers, actor)
				l.closeHold(actor, now)
				n++
			}
		}
		if len(l.Reviewers) == 0 {
			delete(t.locks, doc)
		}
	}
	return n
}

// Count returns the number of live holders on doc.
func (t *Table) Count(doc string) int {
	if l, ok := t.locks[doc]; ok {
		return len(l.Reviewers)
	}
	return 0
}

// Holds reports whether actor currently holds doc.
func (t *Table) Holds(actor, doc string) bool {
	l, ok := t.locks[doc]
	if !ok {
		return false
	}
	_, ok = l.Reviewers[actor]
	return ok
}

// Touch creates or refreshes actor's hold on doc. extra counts holders known
// only to other processes. It refuses when the document is full and actor is
// not already a holder.
func (t *Table) Touch(actor, doc string, now time.Time, extra int) bool {
	l, ok := t.locks[doc]
	if !ok {
		if extra >= t.max {
			return false
		}
		l = &Lock{DocumentID: doc, Reviewers: make(map[string]time.Time), AssignedAt: now}
		t.locks[doc] = l
	}
	if _, held := l.Reviewers[actor]; held {
		l.Reviewers[actor] = now
		return true
	}
	if len(l.Reviewers)+extra >= t.max {
		if len(l.Reviewers) == 0 {
			delete(t.locks, doc)
		}
		return false
	}
	l.Reviewers[actor] = now
	l.History = append(l.History, Hold{Actor: actor, AssignedAt: now})
	return true
}

// Release removes actor from doc. It reports whether a hold existed.
func (t *Table) Release(actor, doc string, now time.Time) bool {
	l, ok := t.locks[doc]
	if !ok {
		return false
	}
	if _, held := l.Reviewers[actor]; !held {
		return false
	}
	delete(l.Reviewers, actor)
	l.closeHold(actor, now)
	if len(l.Reviewers) == 0 {
		delete(t.locks, doc)
	}
	return true
}

// Current returns the document actor holds, preferring the freshest hold.
func (t *Table) Current(actor string) (string, bool) {
	var (
		best   string
		bestAt time.Time
		found  bool
	)
	for doc, l := range t.locks {
		if hb, ok := l.Reviewers[actor]; ok {
			if !found || hb.After(bestAt) || (hb.Equal(bestAt) && doc < best) {
				best, bestAt, found = doc, hb, true
			}
		}
	}
	return best, found
}

// Holders lists the live holders of doc sorted by actor.
func (t *Table) Holders(doc string) []Holder {
	l, ok := t.locks[doc]
	if !ok {
		return nil
	}
	out := make([]Holder, 0, len(l.Reviewers))
	for a, hb := range l.Reviewers {
		out = append(out, Holder{Actor: a, LastHeartbeat: hb})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

// Snapshot returns a deep copy of every lock.
func (t *Table) Snapshot() map[string]Lock {
	out := make(map[string]Lock, len(t.locks))
	for doc, l := range t.locks {
		out[doc] = l.clone()
	}
	return out
}
