package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ReviewForge/internal/port/locks"
)

const lockPrefix = "lock"

type lockEntry struct {
	DocumentID string    `json:"document_id"`
	Actor      string    `json:"actor"`
	Heartbeat  time.Time `json:"heartbeat"`
}

// LockMirror shares document holds across replicas. The bucket TTL must equal
// the assignment timeout so that abandoned holds expire without a sweeper.
type LockMirror struct {
	kv jetstream.KeyValue
}

// NewLockMirror wraps kv as a lock mirror.
func NewLockMirror(kv jetstream.KeyValue) *LockMirror {
	return &LockMirror{kv: kv}
}

var _ locks.Mirror = (*LockMirror)(nil)

// Holds lists every live hold in the bucket.
func (m *LockMirror) Holds(ctx context.Context) (map[string]locks.Holders, error) {
	lister, err := m.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string]locks.Holders{}, nil
		}
		return nil, fmt.Errorf("list lock keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	out := make(map[string]locks.Holders)
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, lockPrefix+".") {
			continue
		}
		entry, err := m.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get lock %s: %w", key, err)
		}
		var le lockEntry
		if err := json.Unmarshal(entry.Value(), &le); err != nil {
			continue
		}
		if out[le.DocumentID] == nil {
			out[le.DocumentID] = make(locks.Holders)
		}
		out[le.DocumentID][le.Actor] = le.Heartbeat
	}
	return out, nil
}

// Put records actor's hold on doc.
func (m *LockMirror) Put(ctx context.Context, doc, actor string, heartbeat time.Time) error {
	data, err := json.Marshal(lockEntry{DocumentID: doc, Actor: actor, Heartbeat: heartbeat})
	if err != nil {
		return err
	}
	if _, err := m.kv.Put(ctx, Key(lockPrefix, doc, actor), data); err != nil {
		return fmt.Errorf("put lock: %w", err)
	}
	return nil
}

// Delete removes actor's hold on doc.
func (m *LockMirror) Delete(ctx context.Context, doc, actor string) error {
	err := m.kv.Delete(ctx, Key(lockPrefix, doc, actor))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
