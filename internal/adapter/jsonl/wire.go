package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

// wireRecord is the on-disk line format. Reads accept the legacy field
// names (pmid, sentence_idx, creator, reviewer, admin, assertion_key,
// timestamp, prior_consensus_status, original_arbitration).
type wireRecord struct {
	ID                string          `json:"id,omitempty"`
	Action            string          `json:"action"`
	DocumentID        string          `json:"document_id,omitempty"`
	PMID              string          `json:"pmid,omitempty"`
	SentenceIndex     *int            `json:"sentence_index,omitempty"`
	SentenceIdx       *int            `json:"sentence_idx,omitempty"`
	SentenceText      string          `json:"sentence_text,omitempty"`
	Subject           string          `json:"subject,omitempty"`
	SubjectType       string          `json:"subject_type,omitempty"`
	Predicate         string          `json:"predicate,omitempty"`
	Object            string          `json:"object,omitempty"`
	ObjectType        string          `json:"object_type,omitempty"`
	Negation          flexBool        `json:"negation,omitempty"`
	ContentHash       string          `json:"content_hash,omitempty"`
	AssertionID       string          `json:"assertion_id,omitempty"`
	AssertionKey      string          `json:"assertion_key,omitempty"`
	RelatedTo         string          `json:"related_to,omitempty"`
	Actor             string          `json:"actor,omitempty"`
	Reviewer          string          `json:"reviewer,omitempty"`
	Creator           string          `json:"creator,omitempty"`
	Admin             string          `json:"admin,omitempty"`
	Comment           string          `json:"comment,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	ChangedFields     []string        `json:"changed_fields,omitempty"`
	ArbitrateDecision string          `json:"arbitrate_decision,omitempty"`
	PriorVerdict      string          `json:"prior_verdict,omitempty"`
	PriorStatus       string          `json:"prior_consensus_status,omitempty"`
	OriginalArb       json.RawMessage `json:"original_arbitration,omitempty"`
	CreatedAt         json.RawMessage `json:"created_at,omitempty"`
	Timestamp         json.RawMessage `json:"timestamp,omitempty"`
}

// flexBool accepts true/false, "true"/"false" and 0/1.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		*b = false
		return nil //nolint:nilerr // malformed flags read as false
	}
	*b = flexBool(v)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseTimestamp accepts unix seconds (as a number or numeric string) and
// RFC 3339. Anything else yields the zero time, which sorts first.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, false
		}
		s = strings.TrimSpace(str)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), true
		}
	}
	return parseUnix(s)
}

// parseUnix reads decimal seconds exactly when possible so that a written
// timestamp reads back unchanged. The epoch itself is what formatUnix writes
// for an unset time and reads back as the zero time.
func parseUnix(s string) (time.Time, bool) {
	t, ok := parseUnixSeconds(s)
	if !ok || t.Equal(time.Unix(0, 0)) {
		return time.Time{}, false
	}
	return t, true
}

func parseUnixSeconds(s string) (time.Time, bool) {
	if !strings.ContainsAny(s, "eE") && !strings.HasPrefix(s, "-") {
		whole, frac, _ := strings.Cut(s, ".")
		sec, err := strconv.ParseInt(whole, 10, 64)
		if err == nil {
			if len(frac) > 9 {
				frac = frac[:9]
			}
			var nsec int64
			if frac != "" {
				n, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
				if err != nil {
					return time.Time{}, false
				}
				nsec = n
			}
			return time.Unix(sec, nsec).UTC(), true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC(), true
}

// formatUnix writes seconds with microsecond precision.
func formatUnix(t time.Time) json.RawMessage {
	if t.IsZero() {
		return json.RawMessage("0")
	}
	t = t.Truncate(time.Microsecond)
	return json.RawMessage(fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1e3))
}

func (w *wireRecord) toRecord() review.Record {
	r := review.Record{
		ID:           w.ID,
		Action:       review.ParseAction(w.Action),
		DocumentID:   strings.TrimSpace(firstNonEmpty(w.DocumentID, w.PMID)),
		SentenceText: w.SentenceText,
		Content: review.Content{
			Subject:     w.Subject,
			SubjectType: w.SubjectType,
			Predicate:   w.Predicate,
			Object:      w.Object,
			ObjectType:  w.ObjectType,
			Negation:    bool(w.Negation),
		},
		ContentHash:       w.ContentHash,
		AssertionID:       firstNonEmpty(w.AssertionID, w.AssertionKey),
		RelatedTo:         w.RelatedTo,
		Actor:             review.NormalizeActor(firstNonEmpty(w.Actor, w.Reviewer, w.Creator, w.Admin)),
		Comment:           w.Comment,
		Reason:            w.Reason,
		ChangedFields:     w.ChangedFields,
		ArbitrateDecision: review.ParseAction(w.ArbitrateDecision),
		PriorVerdict:      review.Verdict(strings.ToLower(firstNonEmpty(w.PriorVerdict, w.PriorStatus))),
	}
	switch {
	case w.SentenceIndex != nil:
		r.SentenceIndex = *w.SentenceIndex
	case w.SentenceIdx != nil:
		r.SentenceIndex = *w.SentenceIdx
	}
	if r.RelatedTo == "" && len(w.OriginalArb) > 0 {
		var orig struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(w.OriginalArb, &orig) == nil {
			r.RelatedTo = orig.ID
		}
	}
	if t, ok := parseTimestamp(w.CreatedAt); ok {
		r.CreatedAt = t
	} else if t, ok := parseTimestamp(w.Timestamp); ok {
		r.CreatedAt = t
	}
	return r
}

func fromRecord(r *review.Record) wireRecord {
	idx := r.SentenceIndex
	w := wireRecord{
		ID:            r.ID,
		Action:        r.Action.String(),
		DocumentID:    r.DocumentID,
		SentenceIndex: &idx,
		SentenceText:  r.SentenceText,
		Subject:       r.Content.Subject,
		SubjectType:   r.Content.SubjectType,
		Predicate:     r.Content.Predicate,
		Object:        r.Content.Object,
		ObjectType:    r.Content.ObjectType,
		Negation:      flexBool(r.Content.Negation),
		ContentHash:   r.ContentHash,
		AssertionID:   r.AssertionID,
		RelatedTo:     r.RelatedTo,
		Actor:         r.Actor,
		Comment:       r.Comment,
		Reason:        r.Reason,
		ChangedFields: r.ChangedFields,
		PriorVerdict:  string(r.PriorVerdict),
		CreatedAt:     formatUnix(r.CreatedAt),
	}
	if r.ArbitrateDecision != review.ActionUnknown {
		w.ArbitrateDecision = r.ArbitrateDecision.String()
	}
	return w
}
