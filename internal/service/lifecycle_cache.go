package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Strob0t/ReviewForge/internal/adapter/natskv"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/cache"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if cborEnc, err = opts.EncMode(); err != nil {
		panic(fmt.Sprintf("lifecycle cache: cbor encoder: %v", err))
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(fmt.Sprintf("lifecycle cache: cbor decoder: %v", err))
	}
}

// cachedLifecycles is one document's grouped records tagged with the log
// head they were computed from.
type cachedLifecycles struct {
	Seq        int64              `cbor:"1,keyasint"`
	Lifecycles []review.Lifecycle `cbor:"2,keyasint"`
}

// LifecycleCache stores grouped lifecycles per document. Entries are only
// trusted when their sequence matches the document's current log head, so a
// stale entry costs a recomputation, never a wrong verdict.
type LifecycleCache struct {
	c   cache.Cache
	ttl time.Duration
}

// NewLifecycleCache wraps c. A nil c disables caching.
func NewLifecycleCache(c cache.Cache, ttl time.Duration) *LifecycleCache {
	return &LifecycleCache{c: c, ttl: ttl}
}

// lifecycleKey maps a document id onto a NATS-KV-safe key.
func lifecycleKey(documentID string) string {
	return natskv.Key("lc", documentID)
}

// Get returns the cached lifecycles for documentID when they were computed
// at head.
func (lc *LifecycleCache) Get(ctx context.Context, documentID string, head int64) ([]review.Lifecycle, bool) {
	if lc == nil || lc.c == nil {
		return nil, false
	}
	data, ok, err := lc.c.Get(ctx, lifecycleKey(documentID))
	if err != nil {
		slog.Warn("lifecycle cache read failed", "document_id", documentID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry cachedLifecycles
	if err := cborDec.Unmarshal(data, &entry); err != nil {
		slog.Warn("lifecycle cache entry undecodable", "document_id", documentID, "error", err)
		return nil, false
	}
	if entry.Seq != head {
		return nil, false
	}
	return entry.Lifecycles, true
}

// Put stores lifecycles computed at head.
func (lc *LifecycleCache) Put(ctx context.Context, documentID string, head int64, lcs []review.Lifecycle) {
	if lc == nil || lc.c == nil {
		return
	}
	data, err := cborEnc.Marshal(cachedLifecycles{Seq: head, Lifecycles: lcs})
	if err != nil {
		slog.Warn("lifecycle cache encode failed", "document_id", documentID, "error", err)
		return
	}
	if err := lc.c.Set(ctx, lifecycleKey(documentID), data, lc.ttl); err != nil {
		slog.Warn("lifecycle cache write failed", "document_id", documentID, "error", err)
	}
}

// Invalidate drops the entry for documentID from every tier.
func (lc *LifecycleCache) Invalidate(ctx context.Context, documentID string) error {
	if lc == nil || lc.c == nil {
		return nil
	}
	if err := lc.c.Delete(ctx, lifecycleKey(documentID)); err != nil {
		return fmt.Errorf("invalidate lifecycles %s: %w", documentID, err)
	}
	return nil
}

// EvictLocal drops only the process-local copy of documentID's entry. It is
// used when another replica announces an append.
func (lc *LifecycleCache) EvictLocal(documentID string) {
	if lc == nil || lc.c == nil {
		return
	}
	if e, ok := lc.c.(cache.LocalEvicter); ok {
		e.EvictLocal(lifecycleKey(documentID))
	}
}
