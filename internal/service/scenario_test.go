package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/ReviewForge/internal/domain/assignment"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

func TestReviewLifecycle_EndToEnd(t *testing.T) {
	h := newHarness("A1")
	ctx := context.Background()

	verdict := func(step, key string, want review.Verdict) {
		t.Helper()
		ev, err := h.consensus.AssertionSummary(ctx, "A1", key)
		if err != nil {
			t.Fatalf("%s: summary: %v", step, err)
		}
		if ev.Verdict != want {
			t.Fatalf("%s: verdict = %s, want %s", step, ev.Verdict, want)
		}
	}

	add := h.act(t, review.ActionAdd, "A1", "amy@x.org", aspirin)
	key := add.ContentHash

	h.act(t, review.ActionAccept, "A1", "r1@x.org", aspirin)
	verdict("after r1", key, review.VerdictPending)

	h.act(t, review.ActionAccept, "A1", "r2@x.org", aspirin)
	verdict("after r2", key, review.VerdictConsensus)

	// A bare reject with neither identifiers nor content.
	h.act(t, review.ActionReject, "A1", "r3@x.org", review.Content{})
	verdict("after r3", key, review.VerdictConflict)

	lcs, err := h.consensus.Lifecycles(ctx, "A1")
	if err != nil {
		t.Fatalf("lifecycles: %v", err)
	}
	if len(lcs) != 1 || len(lcs[0].Records) != 4 {
		t.Fatalf("lifecycles = %d, want one holding 4 records", len(lcs))
	}

	decided, err := h.arb.Decide(ctx, DecideRequest{DocumentID: "A1", Key: key, Decision: review.ActionAccept, Actor: "lead@x.org"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Verdict != review.VerdictArbitrated {
		t.Errorf("decide verdict = %s", decided.Verdict)
	}
	verdict("after arbitration", key, review.VerdictArbitrated)

	undone, err := h.arb.Undo(ctx, UndoRequest{DocumentID: "A1", Key: key, Actor: "lead@x.org", Reason: "premature"})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.Verdict != review.VerdictConflict {
		t.Errorf("undo verdict = %s", undone.Verdict)
	}
	verdict("after undo", key, review.VerdictConflict)

	reviews := 0
	for _, r := range h.log.records {
		if r.Action.IsReview() {
			reviews++
		}
	}
	if reviews != 3 {
		t.Errorf("review records = %d, want the 3 originals untouched", reviews)
	}
}

func TestArbitrationService_ConcurrentDecisionsBothKept(t *testing.T) {
	h := newHarness("d1")
	ctx := context.Background()
	key := h.conflict(t, "d1", aspirin)

	// Hold both appends until each arbitrator has read the conflict.
	var arrived sync.WaitGroup
	arrived.Add(2)
	h.log.beforeAppend = func() {
		arrived.Done()
		arrived.Wait()
	}

	decisions := []review.Action{review.ActionAccept, review.ActionReject}
	outs := make([]*ArbitrationOutcome, len(decisions))
	errs := make([]error, len(decisions))
	var wg sync.WaitGroup
	for i, d := range decisions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = h.arb.Decide(ctx, DecideRequest{
				DocumentID: "d1", Key: key, Decision: d, Actor: fmt.Sprintf("lead%d@x.org", i),
			})
		}()
	}
	wg.Wait()
	h.log.beforeAppend = nil

	for i, err := range errs {
		if err != nil {
			t.Fatalf("arbitrator %d: %v", i, err)
		}
		if !outs[i].Created || outs[i].Record.PriorVerdict != review.VerdictConflict {
			t.Errorf("arbitrator %d outcome = %+v", i, outs[i])
		}
	}

	hist, err := h.arb.History(ctx, "d1", key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d records, want 2", len(hist))
	}
	if hist[0].Seq >= hist[1].Seq {
		t.Errorf("history out of order: seq %d then %d", hist[0].Seq, hist[1].Seq)
	}
	ev, err := h.consensus.AssertionSummary(ctx, "d1", key)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if ev.Verdict != review.VerdictArbitrated {
		t.Errorf("verdict = %s, want arbitrated", ev.Verdict)
	}
}

func TestAssignmentService_ConcurrentAssignRespectsCap(t *testing.T) {
	h := newHarness("d1")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	const reviewers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
		other   []error
	)
	for i := range reviewers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := fmt.Sprintf("r%02d@x.org", i)
			_, err := svc.Assign(ctx, actor, AssignOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted = append(granted, actor)
			case !errors.Is(err, assignment.ErrNoDocumentsAvailable):
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if len(granted) != 2 {
		t.Errorf("granted = %d, want 2", len(granted))
	}
	if n := len(svc.WhoHolds(ctx, "d1")); n != 2 {
		t.Errorf("holders = %d, want 2", n)
	}
	lock, ok := svc.Snapshot(ctx)["d1"]
	if !ok || len(lock.Reviewers) != 2 {
		t.Errorf("snapshot lock = %+v", lock)
	}

	for _, actor := range granted {
		if _, err := svc.Release(ctx, actor, "d1"); err != nil {
			t.Fatalf("release %s: %v", actor, err)
		}
	}
	if _, ok := svc.Snapshot(ctx)["d1"]; ok {
		t.Error("lock survived the release of its last reviewer")
	}
}
