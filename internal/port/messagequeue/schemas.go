package messagequeue

// ActionAppendedPayload is the schema for review.action.appended messages.
// Replicas use it to evict their process-local lifecycle cache.
type ActionAppendedPayload struct {
	RecordID   string `json:"record_id"`
	DocumentID string `json:"document_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Seq        int64  `json:"seq"`
	Origin     string `json:"origin"`
}

// ArbitrationPayload is the schema for review.arbitration.* messages.
type ArbitrationPayload struct {
	RecordID     string `json:"record_id"`
	DocumentID   string `json:"document_id"`
	Key          string `json:"assertion_key"`
	Decision     string `json:"decision,omitempty"`
	PriorVerdict string `json:"prior_verdict,omitempty"`
	Actor        string `json:"actor"`
}

// AssignmentPayload is the schema for review.assignment.* messages.
type AssignmentPayload struct {
	DocumentID string `json:"document_id"`
	Actor      string `json:"actor"`
	Pool       string `json:"pool,omitempty"`
	Expired    bool   `json:"expired,omitempty"`
}
