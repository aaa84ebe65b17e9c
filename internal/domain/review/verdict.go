package review

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
)

// Verdict is the consensus status of a lifecycle.
type Verdict string

const (
	VerdictPending    Verdict = "pending"
	VerdictUncertain  Verdict = "uncertain"
	VerdictConflict   Verdict = "conflict"
	VerdictConsensus  Verdict = "consensus"
	VerdictArbitrated Verdict = "arbitrated"
)

// IsFinal reports whether the verdict yields a final decision.
func (v Verdict) IsFinal() bool {
	return v == VerdictConsensus || v == VerdictArbitrated
}

// DefaultMinReviewers is the consensus threshold when none is configured.
const DefaultMinReviewers = 2

var (
	// ErrNotInConflict is returned when arbitration is requested for a
	// lifecycle that is not in conflict and no override was given.
	ErrNotInConflict = fmt.Errorf("lifecycle is not in conflict: %w", domain.ErrConflict)

	// ErrNoArbitration is returned when undoing a lifecycle without an
	// active arbitration.
	ErrNoArbitration = fmt.Errorf("no active arbitration: %w", domain.ErrConflict)
)

// IsArbitrationError reports whether err is one of the arbitration refusals.
func IsArbitrationError(err error) bool {
	return errors.Is(err, ErrNotInConflict) || errors.Is(err, ErrNoArbitration)
}

// Params tunes the consensus state machine.
type Params struct {
	MinReviewers             int  `json:"min_reviewers"`
	RequireExactContentMatch bool `json:"require_exact_content_match"`
}

func (p Params) threshold() int {
	if p.MinReviewers <= 0 {
		return DefaultMinReviewers
	}
	return p.MinReviewers
}

// ActiveArbitration returns the arbitrate record currently in force, if any.
// An undo cancels the arbitration it references, or the most recent active
// one when the reference is missing or unknown.
func ActiveArbitration(records []Record) (Record, bool) {
	var active []Record
	for i := range records {
		r := records[i]
		switch r.Action {
		case ActionArbitrate:
			active = append(active, r)
		case ActionArbitrateUndo:
			cancelled := false
			if r.RelatedTo != "" {
				for j := len(active) - 1; j >= 0; j-- {
					if active[j].ID == r.RelatedTo {
						active = append(active[:j], active[j+1:]...)
						cancelled = true
						break
					}
				}
			}
			if !cancelled && len(active) > 0 {
				active = active[:len(active)-1]
			}
		}
	}
	if len(active) == 0 {
		return Record{}, false
	}
	return active[len(active)-1], true
}

// Decide computes the verdict of an ordered record set. It is pure and total.
func Decide(records []Record, p Params) Verdict {
	if _, ok := ActiveArbitration(records); ok {
		return VerdictArbitrated
	}

	var accept, modify, reject, uncertain int
	for i := range records {
		switch records[i].Action {
		case ActionAccept:
			accept++
		case ActionModify:
			modify++
		case ActionReject:
			reject++
		case ActionUncertain:
			uncertain++
		case ActionUnknown, ActionAdd, ActionArbitrate, ActionArbitrateUndo:
		}
	}
	total := accept + modify + reject + uncertain
	switch {
	case total == 0:
		return VerdictPending
	case reject > 0:
		return VerdictConflict
	case uncertain == total:
		return VerdictUncertain
	case uncertain > 0:
		return VerdictConflict
	}

	if len(supporters(records)) < p.threshold() {
		return VerdictPending
	}
	if p.RequireExactContentMatch && modifyMismatch(records) {
		return VerdictConflict
	}
	return VerdictConsensus
}

func supporters(records []Record) map[string]struct{} {
	out := make(map[string]struct{})
	for i := range records {
		if a := records[i].Action; a == ActionAccept || a == ActionModify {
			out[NormalizeActor(records[i].Actor)] = struct{}{}
		}
	}
	return out
}

func modifyMismatch(records []Record) bool {
	tuples := make(map[string]struct{})
	for i := range records {
		if records[i].Action == ActionModify {
			tuples[records[i].Content.Tuple()] = struct{}{}
		}
	}
	return len(tuples) > 1
}

// Evaluation is a lifecycle together with its derived verdict and summary.
type Evaluation struct {
	DocumentID     string         `json:"document_id"`
	Key            string         `json:"assertion_key"`
	Source         KeySource      `json:"key_source"`
	Verdict        Verdict        `json:"consensus_status"`
	SupportCounts  map[string]int `json:"support_counts"`
	Reviewers      []string       `json:"reviewers"`
	LastUpdated    time.Time      `json:"last_updated"`
	ConflictReason string         `json:"conflict_reason,omitempty"`
	Records        []Record       `json:"logs"`
	Arbitration    *Record        `json:"arbitration,omitempty"`
}

// Evaluate runs the state machine over lc and collects summary fields.
func Evaluate(lc Lifecycle, p Params) Evaluation {
	ev := Evaluation{
		DocumentID:    lc.DocumentID,
		Key:           lc.Key,
		Source:        lc.Source,
		Verdict:       Decide(lc.Records, p),
		SupportCounts: make(map[string]int),
		LastUpdated:   lc.LastUpdated(),
		Records:       lc.Records,
	}
	seen := make(map[string]struct{})
	for i := range lc.Records {
		r := &lc.Records[i]
		ev.SupportCounts[r.Action.String()]++
		if r.Actor != "" {
			a := NormalizeActor(r.Actor)
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				ev.Reviewers = append(ev.Reviewers, a)
			}
		}
	}
	sort.Strings(ev.Reviewers)
	if arb, ok := ActiveArbitration(lc.Records); ok {
		ev.Arbitration = &arb
	}
	if ev.Verdict == VerdictConflict {
		ev.ConflictReason = conflictReason(lc.Records, p)
	}
	return ev
}

// EvaluateAll evaluates every lifecycle in order.
func EvaluateAll(lcs []Lifecycle, p Params) []Evaluation {
	out := make([]Evaluation, 0, len(lcs))
	for i := range lcs {
		out = append(out, Evaluate(lcs[i], p))
	}
	return out
}

func conflictReason(records []Record, p Params) string {
	var reasons []string
	var hasReject, hasUncertain bool
	for i := range records {
		switch records[i].Action {
		case ActionReject:
			hasReject = true
		case ActionUncertain:
			hasUncertain = true
		}
	}
	if hasReject {
		reasons = append(reasons, "contains reject")
	}
	if hasUncertain {
		reasons = append(reasons, "contains uncertain")
	}
	if p.RequireExactContentMatch && modifyMismatch(records) {
		reasons = append(reasons, "modify content mismatch")
	}
	if len(reasons) == 0 {
		return "mixed signals"
	}
	return strings.Join(reasons, "; ")
}

// OnlyAdds reports whether every record of the lifecycle is an add.
func (l *Lifecycle) OnlyAdds() bool {
	for i := range l.Records {
		if l.Records[i].Action != ActionAdd {
			return false
		}
	}
	return len(l.Records) > 0
}

// FinalDecision is the exported outcome of a lifecycle with a final verdict.
type FinalDecision struct {
	Record
	Key           string         `json:"assertion_key"`
	FinalDecision Verdict        `json:"final_decision"`
	SupportCounts map[string]int `json:"support_counts"`
	Reviewers     []string       `json:"reviewers"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// Final converts an evaluation into a final decision. ok is false when the
// verdict is not final.
func (e *Evaluation) Final() (FinalDecision, bool) {
	if !e.Verdict.IsFinal() || len(e.Records) == 0 {
		return FinalDecision{}, false
	}
	return FinalDecision{
		Record:        e.Records[len(e.Records)-1],
		Key:           e.Key,
		FinalDecision: e.Verdict,
		SupportCounts: e.SupportCounts,
		Reviewers:     e.Reviewers,
		LastUpdated:   e.LastUpdated,
	}, true
}
