package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
	"github.com/Strob0t/ReviewForge/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Actions     *service.ActionLogService
	Consensus   *service.ConsensusService
	Arbitration *service.ArbitrationService
	Assignment  *service.AssignmentService
	// Documents is optional; without it only documents seen in the log
	// are listed.
	Documents documents.Store
}

// actionRequest is a reviewer-submitted action. The actor always comes
// from the caller identity.
type actionRequest struct {
	ID            string         `json:"id,omitempty"`
	Action        review.Action  `json:"action"`
	DocumentID    string         `json:"document_id"`
	SentenceIndex int            `json:"sentence_index"`
	SentenceText  string         `json:"sentence_text,omitempty"`
	Content       review.Content `json:"content"`
	ContentHash   string         `json:"content_hash,omitempty"`
	AssertionID   string         `json:"assertion_id,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
}

func (req *actionRequest) record(actor string) *review.Record {
	return &review.Record{
		ID:            req.ID,
		Action:        req.Action,
		DocumentID:    req.DocumentID,
		SentenceIndex: req.SentenceIndex,
		SentenceText:  req.SentenceText,
		Content:       req.Content,
		ContentHash:   req.ContentHash,
		AssertionID:   req.AssertionID,
		Actor:         actor,
		Comment:       req.Comment,
		Reason:        req.Reason,
		ChangedFields: req.ChangedFields,
	}
}

// AppendAction handles POST /api/v1/actions
func (h *Handlers) AppendAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[actionRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	rec := req.record(actor(r))
	if err := h.Actions.Append(r.Context(), rec); err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListDocuments handles GET /api/v1/documents
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Consensus.DocumentIDs(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": ids})
}

// GetDocument handles GET /api/v1/documents/{doc}
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	if h.Documents == nil {
		writeError(w, http.StatusNotFound, "document store not configured")
		return
	}
	doc, err := h.Documents.GetDocument(r.Context(), urlParam(r, "doc"))
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DocumentSummary handles GET /api/v1/documents/{doc}/lifecycles
func (h *Handlers) DocumentSummary(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Consensus.DocumentSummary(r.Context(), urlParam(r, "doc"))
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	if evs == nil {
		evs = []review.Evaluation{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// AssertionSummary handles GET /api/v1/documents/{doc}/lifecycles/{key}
func (h *Handlers) AssertionSummary(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Consensus.AssertionSummary(r.Context(), urlParam(r, "doc"), urlParam(r, "key"))
	if err != nil {
		writeDomainError(w, err, "assertion not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// FinalDecisions handles GET /api/v1/documents/{doc}/final
func (h *Handlers) FinalDecisions(w http.ResponseWriter, r *http.Request) {
	finals, err := h.Consensus.FinalDecisions(r.Context(), urlParam(r, "doc"))
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	if finals == nil {
		finals = []review.FinalDecision{}
	}
	writeJSON(w, http.StatusOK, finals)
}

// ConflictOverview handles GET /api/v1/conflicts/overview
func (h *Handlers) ConflictOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.Consensus.ConflictOverview(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// ExportFinal handles GET /api/v1/export/final as newline-delimited JSON.
func (h *Handlers) ExportFinal(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="final_decisions.jsonl"`)
	n, err := h.Consensus.ExportFinal(r.Context(), w)
	if err != nil {
		// Headers are gone once the first line is written.
		if n == 0 && !errors.Is(err, r.Context().Err()) {
			writeDomainError(w, err, "")
			return
		}
		slog.Error("export interrupted", "written", n, "error", err)
		return
	}
	slog.Info("final decisions exported", "count", n)
}

// ReviewerStats handles GET /api/v1/reviewers/{actor}/stats
func (h *Handlers) ReviewerStats(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	stats, err := h.Consensus.ReviewerStats(r.Context(), urlParam(r, "actor"), since, until)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
