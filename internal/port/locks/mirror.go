// Package locks defines the port for sharing document holds across replicas.
package locks

import (
	"context"
	"time"
)

// Holders maps a reviewer to their last heartbeat on a document.
type Holders map[string]time.Time

// Mirror is a shared store with native expiry holding one entry per
// (document, reviewer) pair. Entries vanish after the configured timeout
// unless refreshed by Put.
type Mirror interface {
	// Holds returns every mirrored document with its holders.
	Holds(ctx context.Context) (map[string]Holders, error)
	// Put records or refreshes actor's hold on doc.
	Put(ctx context.Context, doc, actor string, heartbeat time.Time) error
	// Delete removes actor's hold on doc. Missing entries are not an error.
	Delete(ctx context.Context, doc, actor string) error
}
