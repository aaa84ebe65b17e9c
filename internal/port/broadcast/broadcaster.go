// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types pushed to websocket clients.
const (
	EventActionAppended     = "action.appended"
	EventArbitrationDecided = "arbitration.decided"
	EventArbitrationUndone  = "arbitration.undone"
	EventAssignmentChanged  = "assignment.changed"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Scoped is implemented by payloads that belong to a single document.
// Clients subscribed to one document only receive events scoped to it.
type Scoped interface {
	Document() string
}

// ActionAppendedEvent is broadcast after a review action is stored.
type ActionAppendedEvent struct {
	RecordID   string `json:"record_id"`
	DocumentID string `json:"document_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Seq        int64  `json:"seq"`
}

func (e ActionAppendedEvent) Document() string { return e.DocumentID }

// ArbitrationEvent is broadcast when an arbitration is recorded or withdrawn.
type ArbitrationEvent struct {
	RecordID   string `json:"record_id"`
	DocumentID string `json:"document_id"`
	Key        string `json:"assertion_key"`
	Decision   string `json:"decision,omitempty"`
	Actor      string `json:"actor"`
	Verdict    string `json:"consensus_status"`
}

func (e ArbitrationEvent) Document() string { return e.DocumentID }

// AssignmentEvent is broadcast when a reviewer takes or leaves a document.
type AssignmentEvent struct {
	DocumentID string `json:"document_id"`
	Actor      string `json:"actor"`
	Status     string `json:"status"` // "assigned", "released" or "expired"
	Pool       string `json:"pool,omitempty"`
	Holders    int    `json:"holders"`
}

func (e AssignmentEvent) Document() string { return e.DocumentID }

// Nop discards every event.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
