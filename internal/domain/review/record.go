package review

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
)

// Content is the subject-predicate-object tuple under review.
type Content struct {
	Subject     string `json:"subject,omitempty"`
	SubjectType string `json:"subject_type,omitempty"`
	Predicate   string `json:"predicate,omitempty"`
	Object      string `json:"object,omitempty"`
	ObjectType  string `json:"object_type,omitempty"`
	Negation    bool   `json:"negation,omitempty"`
}

// IsEmpty reports whether the tuple carries no subject, predicate or object.
func (c Content) IsEmpty() bool {
	return c.Subject == "" && c.Predicate == "" && c.Object == ""
}

// Key returns the derived content key. No normalization is applied.
func (c Content) Key() string {
	return strings.Join([]string{c.Subject, c.SubjectType, c.Predicate, c.Object, c.ObjectType}, "|")
}

// Tuple is the comparison form used for exact content matching.
func (c Content) Tuple() string {
	return c.Key() + "|" + strconv.FormatBool(c.Negation)
}

// ComputeContentHash fingerprints an assertion by document, sentence and
// normalized content. The format matches hashes already present in stored logs.
func ComputeContentHash(documentID string, sentenceIndex int, c Content) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	raw := strings.Join([]string{
		norm(documentID),
		strconv.Itoa(sentenceIndex),
		norm(c.Subject),
		norm(c.SubjectType),
		norm(c.Predicate),
		norm(c.Object),
		norm(c.ObjectType),
	}, "|")
	sum := sha1.Sum([]byte(raw)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// Record is one immutable entry of the review action log.
type Record struct {
	ID                string    `json:"id"`
	Seq               int64     `json:"seq,omitempty"`
	Action            Action    `json:"action"`
	DocumentID        string    `json:"document_id"`
	SentenceIndex     int       `json:"sentence_index"`
	SentenceText      string    `json:"sentence_text,omitempty"`
	Content           Content   `json:"content"`
	ContentHash       string    `json:"content_hash,omitempty"`
	AssertionID       string    `json:"assertion_id,omitempty"`
	RelatedTo         string    `json:"related_to,omitempty"`
	Actor             string    `json:"actor"`
	Comment           string    `json:"comment,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	ChangedFields     []string  `json:"changed_fields,omitempty"`
	ArbitrateDecision Action    `json:"arbitrate_decision,omitempty"`
	PriorVerdict      Verdict   `json:"prior_verdict,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NormalizeActor returns the canonical form of a reviewer identity.
func NormalizeActor(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate checks the structural requirements of a reviewer-submitted record.
// Arbitration records are produced by the arbitration service only.
func (r *Record) Validate() error {
	switch {
	case r.Action == ActionUnknown:
		return fmt.Errorf("%w: unknown action", domain.ErrValidation)
	case r.Action == ActionArbitrate || r.Action == ActionArbitrateUndo:
		return fmt.Errorf("%w: %s is reserved for arbitration", domain.ErrValidation, r.Action)
	case strings.TrimSpace(r.DocumentID) == "":
		return fmt.Errorf("%w: document_id is required", domain.ErrValidation)
	case NormalizeActor(r.Actor) == "":
		return fmt.Errorf("%w: actor is required", domain.ErrValidation)
	case r.SentenceIndex < 0:
		return fmt.Errorf("%w: sentence_index must not be negative", domain.ErrValidation)
	case r.Action == ActionAdd && r.Content.IsEmpty():
		return fmt.Errorf("%w: add requires content", domain.ErrValidation)
	}
	return nil
}
