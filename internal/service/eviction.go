package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// StartEvictionListener drops this replica's local lifecycle cache entries
// when another replica appends to the log. The returned function stops the
// subscription.
func StartEvictionListener(ctx context.Context, queue messagequeue.Queue, lc *LifecycleCache, origin string) (func(), error) {
	cancel, err := queue.Subscribe(ctx, messagequeue.SubjectActionAppended, func(_ context.Context, _ string, data []byte) error {
		var p messagequeue.ActionAppendedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode action appended: %w", err)
		}
		if p.Origin == origin {
			return nil
		}
		lc.EvictLocal(p.DocumentID)
		slog.Debug("lifecycle cache evicted by peer", "document_id", p.DocumentID, "origin", p.Origin)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectActionAppended, err)
	}
	return cancel, nil
}
