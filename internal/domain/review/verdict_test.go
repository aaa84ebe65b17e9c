package review_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

func rec(id string, a review.Action, actor string, sec int) review.Record {
	return review.Record{ID: id, Action: a, DocumentID: "d", Actor: actor, CreatedAt: at(sec)}
}

func TestDecide(t *testing.T) {
	def := review.Params{}
	tests := []struct {
		name    string
		records []review.Record
		params  review.Params
		want    review.Verdict
	}{
		{"no reviews", []review.Record{rec("1", review.ActionAdd, "x", 0)}, def, review.VerdictPending},
		{"single accept below threshold", []review.Record{rec("1", review.ActionAccept, "a", 0)}, def, review.VerdictPending},
		{"two distinct supporters", []review.Record{
			rec("1", review.ActionAccept, "a", 0), rec("2", review.ActionModify, "b", 1),
		}, def, review.VerdictConsensus},
		{"same supporter twice", []review.Record{
			rec("1", review.ActionAccept, "a", 0), rec("2", review.ActionAccept, "A ", 1),
		}, def, review.VerdictPending},
		{"reject wins", []review.Record{
			rec("1", review.ActionAccept, "a", 0), rec("2", review.ActionAccept, "b", 1), rec("3", review.ActionReject, "c", 2),
		}, def, review.VerdictConflict},
		{"all uncertain", []review.Record{
			rec("1", review.ActionUncertain, "a", 0), rec("2", review.ActionUncertain, "b", 1),
		}, def, review.VerdictUncertain},
		{"uncertain mixed with accept", []review.Record{
			rec("1", review.ActionUncertain, "a", 0), rec("2", review.ActionAccept, "b", 1),
		}, def, review.VerdictConflict},
		{"threshold of three", []review.Record{
			rec("1", review.ActionAccept, "a", 0), rec("2", review.ActionAccept, "b", 1),
		}, review.Params{MinReviewers: 3}, review.VerdictPending},
		{"unknown actions ignored", []review.Record{
			rec("1", review.ActionUnknown, "a", 0),
		}, def, review.VerdictPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := review.Decide(tt.records, tt.params); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecideExactContentMatch(t *testing.T) {
	m1 := rec("1", review.ActionModify, "a", 0)
	m1.Content = sample
	m2 := rec("2", review.ActionModify, "b", 1)
	m2.Content = sample
	m2.Content.Negation = true

	strict := review.Params{RequireExactContentMatch: true}
	if got := review.Decide([]review.Record{m1, m2}, strict); got != review.VerdictConflict {
		t.Errorf("strict mismatch = %s, want conflict", got)
	}
	if got := review.Decide([]review.Record{m1, m2}, review.Params{}); got != review.VerdictConsensus {
		t.Errorf("lenient mismatch = %s, want consensus", got)
	}

	ev := review.Evaluate(review.Lifecycle{Key: "k", Records: []review.Record{m1, m2}}, strict)
	if ev.ConflictReason != "modify content mismatch" {
		t.Errorf("reason = %q", ev.ConflictReason)
	}
}

func TestArbitrationOverridesAndUndo(t *testing.T) {
	base := []review.Record{
		rec("1", review.ActionAccept, "a", 0),
		rec("2", review.ActionReject, "b", 1),
	}
	arb := rec("3", review.ActionArbitrate, "admin", 2)
	arb.ArbitrateDecision = review.ActionAccept

	withArb := append(append([]review.Record{}, base...), arb)
	if got := review.Decide(withArb, review.Params{}); got != review.VerdictArbitrated {
		t.Fatalf("with arbitration = %s", got)
	}

	undo := rec("4", review.ActionArbitrateUndo, "admin", 3)
	undo.RelatedTo = "3"
	withUndo := append(append([]review.Record{}, withArb...), undo)
	if got := review.Decide(withUndo, review.Params{}); got != review.VerdictConflict {
		t.Fatalf("after undo = %s, want conflict", got)
	}
	if _, ok := review.ActiveArbitration(withUndo); ok {
		t.Error("arbitration still active after undo")
	}
}

func TestUndoWithoutReferenceCancelsLatest(t *testing.T) {
	a1 := rec("1", review.ActionArbitrate, "admin", 0)
	a2 := rec("2", review.ActionArbitrate, "admin", 1)
	u := rec("3", review.ActionArbitrateUndo, "admin", 2)
	active, ok := review.ActiveArbitration([]review.Record{a1, a2, u})
	if !ok || active.ID != "1" {
		t.Fatalf("expected arbitration 1 to remain active, got %+v (%v)", active, ok)
	}
}

func TestEvaluateSummary(t *testing.T) {
	lc := review.Lifecycle{Key: "k", DocumentID: "d", Records: []review.Record{
		rec("1", review.ActionAdd, "Zed@x", 0),
		rec("2", review.ActionAccept, "amy@x", 1),
		rec("3", review.ActionUncertain, "bob@x", 2),
		rec("4", review.ActionReject, "amy@x", 3),
	}}
	ev := review.Evaluate(lc, review.Params{})
	if ev.Verdict != review.VerdictConflict {
		t.Fatalf("verdict = %s", ev.Verdict)
	}
	if ev.ConflictReason != "contains reject; contains uncertain" {
		t.Errorf("reason = %q", ev.ConflictReason)
	}
	if ev.SupportCounts["add"] != 1 || ev.SupportCounts["reject"] != 1 {
		t.Errorf("counts = %v", ev.SupportCounts)
	}
	want := []string{"amy@x", "bob@x", "zed@x"}
	if len(ev.Reviewers) != len(want) {
		t.Fatalf("reviewers = %v", ev.Reviewers)
	}
	for i := range want {
		if ev.Reviewers[i] != want[i] {
			t.Errorf("reviewers[%d] = %q, want %q", i, ev.Reviewers[i], want[i])
		}
	}
	if !ev.LastUpdated.Equal(at(3)) {
		t.Errorf("last updated = %v", ev.LastUpdated)
	}
	if _, ok := ev.Final(); ok {
		t.Error("conflict should not yield a final decision")
	}
}

func TestFinalDecisionUsesLastRecord(t *testing.T) {
	lc := review.Lifecycle{Key: "k", Records: []review.Record{
		rec("1", review.ActionAccept, "a", 0),
		rec("2", review.ActionModify, "b", 1),
	}}
	ev := review.Evaluate(lc, review.Params{})
	fd, ok := ev.Final()
	if !ok {
		t.Fatal("expected final decision")
	}
	if fd.ID != "2" || fd.FinalDecision != review.VerdictConsensus || fd.Key != "k" {
		t.Errorf("unexpected final decision %+v", fd)
	}
}

func TestArbitrationErrorsWrapConflict(t *testing.T) {
	if !errors.Is(review.ErrNotInConflict, domain.ErrConflict) {
		t.Error("ErrNotInConflict should wrap domain.ErrConflict")
	}
	if !review.IsArbitrationError(review.ErrNoArbitration) {
		t.Error("ErrNoArbitration should be an arbitration error")
	}
}
