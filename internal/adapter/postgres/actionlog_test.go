package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/adapter/postgres"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
)

// setupLog connects to DATABASE_URL, applies migrations and returns a log.
func setupLog(t *testing.T) *postgres.ActionLog {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.NewActionLog(pool)
}

func TestActionLogAppendAndScan(t *testing.T) {
	l := setupLog(t)
	ctx := context.Background()
	doc := "doc-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	add := &review.Record{
		ID: uuid.NewString(), Action: review.ActionAdd, DocumentID: doc, SentenceIndex: 2,
		Content: review.Content{Subject: "aspirin", Predicate: "treats", Object: "pain"},
		Actor:   "amy@x.org", ChangedFields: []string{"object"}, CreatedAt: base,
	}
	if err := l.Append(ctx, add); err != nil {
		t.Fatal(err)
	}
	if add.Seq == 0 {
		t.Fatal("expected sequence number to be assigned")
	}

	arb := &review.Record{
		ID: uuid.NewString(), Action: review.ActionArbitrate, DocumentID: doc, AssertionID: add.ID,
		Actor: "lead@x.org", ArbitrateDecision: review.ActionReject, PriorVerdict: review.VerdictConflict,
		CreatedAt: base.Add(time.Second),
	}
	if err := l.Append(ctx, arb); err != nil {
		t.Fatal(err)
	}

	recs, err := l.Scan(ctx, actionlog.Filter{DocumentID: doc})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Content.Object != "pain" || len(recs[0].ChangedFields) != 1 {
		t.Errorf("content not round-tripped: %+v", recs[0])
	}
	if recs[1].ArbitrateDecision != review.ActionReject || recs[1].PriorVerdict != review.VerdictConflict {
		t.Errorf("arbitration fields not round-tripped: %+v", recs[1])
	}

	only, err := l.Scan(ctx, actionlog.Filter{DocumentID: doc, Actions: []review.Action{review.ActionArbitrate}})
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].ID != arb.ID {
		t.Errorf("action filter returned %+v", only)
	}

	head, err := l.Head(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if head != arb.Seq {
		t.Errorf("head = %d, want %d", head, arb.Seq)
	}

	parts, err := l.Participants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts[doc]) != 2 {
		t.Errorf("participants = %v", parts[doc])
	}
}

func TestActionLogHeadOfUnknownDocument(t *testing.T) {
	l := setupLog(t)
	head, err := l.Head(context.Background(), "missing-"+uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	if head != 0 {
		t.Errorf("head = %d, want 0", head)
	}
}
