package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/assignment"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/locks"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

const lockTimeout = 30 * time.Minute

func testAssignmentConfig() config.Assignment {
	return config.Assignment{
		Timeout:         lockTimeout,
		MaxReviewers:    2,
		SweepInterval:   time.Minute,
		RevisitFallback: true,
	}
}

func newAssignment(h *harness, mirror locks.Mirror, cfg config.Assignment) *AssignmentService {
	return NewAssignmentService(h.docs, h.log, mirror, h.logSvc, h.hub, h.clk, rand.New(rand.NewPCG(1, 2)), cfg)
}

func TestAssignmentService_AssignReusesHold(t *testing.T) {
	h := newHarness("d1", "d2", "d3")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	first, err := svc.Assign(ctx, "Amy@X.org", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if first.Reused || first.Pool != assignment.PoolMixed {
		t.Errorf("first assignment = %+v", first)
	}
	if !first.ExpiresAt.Equal(t0.Add(lockTimeout)) {
		t.Errorf("expires_at = %v", first.ExpiresAt)
	}

	h.clk.Advance(time.Minute)
	again, err := svc.Assign(ctx, "amy@x.org", AssignOptions{})
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if !again.Reused || again.Pool != assignment.PoolCurrent || again.DocumentID != first.DocumentID {
		t.Errorf("second assignment = %+v, want reuse of %s", again, first.DocumentID)
	}

	granted := 0
	for _, s := range h.queue.subjects() {
		if s == messagequeue.SubjectAssignmentGranted {
			granted++
		}
	}
	if granted != 1 {
		t.Errorf("granted published %d times, want 1", granted)
	}
	if !slices.Contains(h.hub.types(), broadcast.EventAssignmentChanged) {
		t.Errorf("broadcast = %v", h.hub.types())
	}
}

func TestAssignmentService_AssignSkipsVisited(t *testing.T) {
	h := newHarness("d1", "d2", "d3")
	h.act(t, review.ActionAccept, "d1", "amy@x.org", aspirin)
	h.act(t, review.ActionAccept, "d2", "amy@x.org", aspirin)
	svc := newAssignment(h, nil, testAssignmentConfig())

	got, err := svc.Assign(context.Background(), "amy@x.org", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DocumentID != "d3" {
		t.Errorf("assigned %s, want the only unvisited document d3", got.DocumentID)
	}
}

func TestAssignmentService_AssignFallback(t *testing.T) {
	h := newHarness("d1")
	h.act(t, review.ActionAccept, "d1", "amy@x.org", aspirin)
	ctx := context.Background()

	cfg := testAssignmentConfig()
	cfg.RevisitFallback = false
	strict := newAssignment(h, nil, cfg)
	if _, err := strict.Assign(ctx, "amy@x.org", AssignOptions{}); !errors.Is(err, assignment.ErrNoDocumentsAvailable) {
		t.Fatalf("expected ErrNoDocumentsAvailable, got %v", err)
	}

	lenient := newAssignment(h, nil, testAssignmentConfig())
	got, err := lenient.Assign(ctx, "amy@x.org", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DocumentID != "d1" || got.Pool != assignment.PoolFallback {
		t.Errorf("fallback assignment = %+v", got)
	}
}

func TestAssignmentService_AssignPrefer(t *testing.T) {
	h := newHarness("d1", "d2", "d3")
	h.act(t, review.ActionAccept, "d3", "amy@x.org", aspirin)
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	got, err := svc.Assign(ctx, "amy@x.org", AssignOptions{Prefer: "d2"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DocumentID != "d2" || got.Pool != assignment.PoolPrefer {
		t.Errorf("assignment = %+v, want preferred d2", got)
	}

	for _, prefer := range []string{"d3", "unknown"} {
		got, err := svc.Assign(ctx, "bob-"+prefer, AssignOptions{Prefer: prefer})
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if got.Pool == assignment.PoolPrefer && prefer == "unknown" {
			t.Errorf("unknown preference honoured: %+v", got)
		}
	}
	got, err = svc.Assign(ctx, "cat", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Pool == assignment.PoolPrefer {
		t.Errorf("pool = %s without a preference", got.Pool)
	}

	// Amy visited d3, so her preference for it is not honoured.
	_, _ = svc.Release(ctx, "amy@x.org", "d2")
	got, err = svc.Assign(ctx, "amy@x.org", AssignOptions{Prefer: "d3"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Pool == assignment.PoolPrefer {
		t.Errorf("preference for a visited document honoured: %+v", got)
	}
}

func TestAssignmentService_AssignCap(t *testing.T) {
	h := newHarness("d1")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	for _, actor := range []string{"amy", "bob"} {
		got, err := svc.Assign(ctx, actor, AssignOptions{})
		if err != nil {
			t.Fatalf("assign %s: %v", actor, err)
		}
		if got.DocumentID != "d1" {
			t.Fatalf("assign %s = %s", actor, got.DocumentID)
		}
	}
	if _, err := svc.Assign(ctx, "cat", AssignOptions{}); !errors.Is(err, assignment.ErrNoDocumentsAvailable) {
		t.Fatalf("third reviewer: expected ErrNoDocumentsAvailable, got %v", err)
	}
	if n := len(svc.WhoHolds(ctx, "d1")); n != 2 {
		t.Errorf("holders = %d, want 2", n)
	}
}

func TestAssignmentService_SinglesAndEmptyPools(t *testing.T) {
	h := newHarness("d1", "d2")
	h.act(t, review.ActionAccept, "d1", "xen@x.org", aspirin)
	svc := newAssignment(h, nil, testAssignmentConfig())

	got, err := svc.Assign(context.Background(), "amy@x.org", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	switch got.Pool {
	case assignment.PoolSingles:
		if got.DocumentID != "d1" {
			t.Errorf("singles pool produced %s", got.DocumentID)
		}
	case assignment.PoolMixed:
	default:
		t.Errorf("pool = %s", got.Pool)
	}
}

func TestAssignmentService_RemoteHolders(t *testing.T) {
	h := newHarness("d1")
	mirror := newMemMirror()
	ctx := context.Background()
	_ = mirror.Put(ctx, "d1", "xen", t0.Add(-time.Minute))
	_ = mirror.Put(ctx, "d1", "yan", t0.Add(-time.Minute))
	svc := newAssignment(h, mirror, testAssignmentConfig())

	if _, err := svc.Assign(ctx, "amy", AssignOptions{}); !errors.Is(err, assignment.ErrNoDocumentsAvailable) {
		t.Fatalf("expected document full on another replica, got %v", err)
	}
	if ok, err := svc.Touch(ctx, "amy", "d1"); err != nil || ok {
		t.Errorf("touch on full document = %v, %v", ok, err)
	}
	if n := len(svc.WhoHolds(ctx, "d1")); n != 2 {
		t.Errorf("holders = %d, want 2 remote", n)
	}

	h.clk.Advance(lockTimeout)
	got, err := svc.Assign(ctx, "amy", AssignOptions{})
	if err != nil {
		t.Fatalf("assign after remote holds went stale: %v", err)
	}
	if got.DocumentID != "d1" {
		t.Errorf("assigned %s", got.DocumentID)
	}
	holds, _ := mirror.Holds(ctx)
	if _, ok := holds["d1"]["amy"]; !ok {
		t.Error("assignment not mirrored")
	}
}

func TestAssignmentService_ResumesRemoteHold(t *testing.T) {
	h := newHarness("d1", "d2")
	mirror := newMemMirror()
	ctx := context.Background()
	_ = mirror.Put(ctx, "d2", "amy", t0.Add(-time.Minute))
	svc := newAssignment(h, mirror, testAssignmentConfig())

	got, err := svc.Assign(ctx, "amy", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DocumentID != "d2" || !got.Reused {
		t.Errorf("assignment = %+v, want reuse of d2", got)
	}
	if doc, ok := svc.Current(ctx, "amy"); !ok || doc != "d2" {
		t.Errorf("current = %q (%v)", doc, ok)
	}
}

func TestAssignmentService_Release(t *testing.T) {
	h := newHarness("d1")
	mirror := newMemMirror()
	svc := newAssignment(h, mirror, testAssignmentConfig())
	ctx := context.Background()

	if _, err := svc.Assign(ctx, "amy", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	ok, err := svc.Release(ctx, "AMY", "d1")
	if err != nil || !ok {
		t.Fatalf("release = %v, %v", ok, err)
	}
	if ok, _ := svc.Release(ctx, "amy", "d1"); ok {
		t.Error("second release reported a hold")
	}
	if n := len(svc.WhoHolds(ctx, "d1")); n != 0 {
		t.Errorf("holders after release = %d", n)
	}
	if holds, _ := mirror.Holds(ctx); len(holds) != 0 {
		t.Errorf("mirror after release = %v", holds)
	}
	if !slices.Contains(h.queue.subjects(), messagequeue.SubjectAssignmentReleased) {
		t.Errorf("published = %v", h.queue.subjects())
	}
	if _, err := svc.Release(ctx, "", "d1"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty actor: %v", err)
	}
}

func TestAssignmentService_CurrentRefreshesHeartbeat(t *testing.T) {
	h := newHarness("d1")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	if _, err := svc.Assign(ctx, "amy", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	h.clk.Advance(20 * time.Minute)
	if _, ok := svc.Current(ctx, "amy"); !ok {
		t.Fatal("hold lost before timeout")
	}
	h.clk.Advance(20 * time.Minute)
	if doc, ok := svc.Current(ctx, "amy"); !ok || doc != "d1" {
		t.Errorf("heartbeat not refreshed: %q (%v)", doc, ok)
	}
	if _, ok := svc.Current(ctx, "bob"); ok {
		t.Error("reviewer without a hold has a current document")
	}
}

func TestAssignmentService_Sweep(t *testing.T) {
	h := newHarness("d1", "d2")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	if _, err := svc.Assign(ctx, "amy", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if n := svc.Sweep(ctx); n != 0 {
		t.Errorf("fresh hold swept: %d", n)
	}
	h.clk.Advance(lockTimeout + time.Second)
	if n := svc.Sweep(ctx); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if len(svc.Snapshot(ctx)) != 0 {
		t.Error("expired lock left in snapshot")
	}
}

// lockCheckHandler records whether mu was free each time a record is logged.
type lockCheckHandler struct {
	mu   *sync.Mutex
	seen []bool
}

func (h *lockCheckHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *lockCheckHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Record is passed by value
	if rec.Message != "expired stale document holds" {
		return nil
	}
	free := h.mu.TryLock()
	if free {
		h.mu.Unlock()
	}
	h.seen = append(h.seen, free)
	return nil
}

func (h *lockCheckHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *lockCheckHandler) WithGroup(string) slog.Handler      { return h }

func TestAssignmentService_ExpiryReportedOutsideLock(t *testing.T) {
	h := newHarness("d1", "d2")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	check := &lockCheckHandler{mu: &svc.mu}
	prev := slog.Default()
	slog.SetDefault(slog.New(check))
	t.Cleanup(func() { slog.SetDefault(prev) })

	expireAll := func() {
		for _, a := range []string{"amy", "bob"} {
			if _, err := svc.Assign(ctx, a, AssignOptions{}); err != nil {
				t.Fatalf("assign %s: %v", a, err)
			}
		}
		h.clk.Advance(lockTimeout + time.Second)
	}

	expireAll()
	if n := svc.Sweep(ctx); n != 2 {
		t.Errorf("swept = %d, want 2", n)
	}
	expireAll()
	svc.Snapshot(ctx)
	expireAll()
	svc.WhoHolds(ctx, "d1")
	expireAll()
	svc.Current(ctx, "amy")
	expireAll()
	if _, err := svc.Touch(ctx, "cat", "d1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if len(check.seen) != 5 {
		t.Fatalf("expiry logged %d times, want 5", len(check.seen))
	}
	for i, free := range check.seen {
		if !free {
			t.Errorf("expiry %d was logged while the lock table mutex was held", i)
		}
	}
}

func TestAssignmentService_RunSweepsOnTick(t *testing.T) {
	h := newHarness("d1")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := svc.Assign(ctx, "amy", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	h.clk.WaitForWaiters(1)
	h.clk.Advance(lockTimeout + time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.Lock()
		n := svc.table.Count("d1")
		svc.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweep loop did not expire the hold")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestAssignmentService_Validation(t *testing.T) {
	h := newHarness("d1")
	svc := newAssignment(h, nil, testAssignmentConfig())
	ctx := context.Background()

	if _, err := svc.Assign(ctx, "  ", AssignOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("assign without actor: %v", err)
	}
	if _, err := svc.Touch(ctx, "amy", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("touch without document: %v", err)
	}
}

func TestAssignmentService_NoDocuments(t *testing.T) {
	h := newHarness()
	svc := newAssignment(h, nil, testAssignmentConfig())
	if _, err := svc.Assign(context.Background(), "amy", AssignOptions{}); !errors.Is(err, assignment.ErrNoDocumentsAvailable) {
		t.Errorf("expected ErrNoDocumentsAvailable, got %v", err)
	}
}

func TestAssignmentService_CandidatesFromLog(t *testing.T) {
	h := newHarness()
	h.act(t, review.ActionAccept, "logged", "xen", aspirin)
	svc := NewAssignmentService(nil, h.log, nil, nil, nil, h.clk, rand.New(rand.NewPCG(1, 2)), testAssignmentConfig())

	got, err := svc.Assign(context.Background(), "amy", AssignOptions{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DocumentID != "logged" {
		t.Errorf("assigned %s, want the document known from the log", got.DocumentID)
	}
}
